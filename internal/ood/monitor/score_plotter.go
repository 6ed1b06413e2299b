package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/drift.report/internal/ood"
	"github.com/banshee-data/drift.report/internal/security"
)

// ScorePlotter writes PNG histograms of the model's test-set OOD
// probabilities, one overlaid plot per call, for offline inspection.
type ScorePlotter struct {
	outputDir string
	project   string
	bins      int
}

// NewScorePlotter creates a plotter that writes into outputDir. The
// project name is embedded (sanitized) in generated file names.
func NewScorePlotter(outputDir, project string, bins int) *ScorePlotter {
	if bins <= 1 {
		bins = 20
	}
	return &ScorePlotter{outputDir: outputDir, project: project, bins: bins}
}

// GeneratePlot renders the ID and OOD test probability histograms from
// the model's diagnostics into a single PNG and returns its path.
func (sp *ScorePlotter) GeneratePlot(m *ood.COODModel) (string, error) {
	if sp.outputDir == "" {
		return "", fmt.Errorf("no output directory configured")
	}
	diag := m.Diagnostics()
	if len(diag.IDTestProbabilities) == 0 && len(diag.OODTestProbabilities) == 0 {
		return "", fmt.Errorf("no test scores available")
	}

	if err := os.MkdirAll(sp.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	p := plot.New()
	p.Title.Text = "COOD Probability Distributions"
	p.X.Label.Text = "OOD probability"
	p.Y.Label.Text = "Count"
	p.X.Min = 0
	p.X.Max = 1

	idBars, err := histogramBars(diag.IDTestProbabilities, sp.bins, color.RGBA{R: 31, G: 158, B: 137, A: 255})
	if err != nil {
		return "", fmt.Errorf("id histogram: %w", err)
	}
	if idBars != nil {
		p.Add(idBars)
		p.Legend.Add("in-distribution", idBars)
	}

	oodBars, err := histogramBars(diag.OODTestProbabilities, sp.bins, color.RGBA{R: 253, G: 231, B: 37, A: 255})
	if err != nil {
		return "", fmt.Errorf("ood histogram: %w", err)
	}
	if oodBars != nil {
		p.Add(oodBars)
		p.Legend.Add("out-of-distribution", oodBars)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	file := filepath.Join(sp.outputDir, fmt.Sprintf("cood_scores_%s_%s.png",
		security.SanitizeFilename(sp.project), FormatTimestamp(time.Now())))
	if err := p.Save(10*vg.Inch, 6*vg.Inch, file); err != nil {
		return "", fmt.Errorf("save score plot: %w", err)
	}
	return file, nil
}

// histogramBars builds a semi-transparent histogram for one population.
// Returns nil when there are no values.
func histogramBars(values []float64, bins int, c color.RGBA) (*plotter.Histogram, error) {
	if len(values) == 0 {
		return nil, nil
	}
	pts := make(plotter.Values, len(values))
	copy(pts, values)

	h, err := plotter.NewHist(pts, bins)
	if err != nil {
		return nil, err
	}
	c.A = 160
	h.FillColor = c
	h.LineStyle.Color = color.RGBA{A: 255}
	h.LineStyle.Width = vg.Points(0.5)
	return h, nil
}

// FormatTimestamp generates a timestamp string for file naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}
