package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleScoreChart renders an HTML bar chart of the OOD probability
// histograms for the in-distribution and out-of-distribution test items.
// This is a debugging-only endpoint (no auth) to eyeball the separation
// between the two populations.
// Query params:
//   - bins (optional; default 20, max 100)
func (ws *WebServer) handleScoreChart(w http.ResponseWriter, r *http.Request) {
	if ws.model == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}

	diag := ws.model.Diagnostics()
	if len(diag.IDTestProbabilities) == 0 && len(diag.OODTestProbabilities) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no test scores available")
		return
	}

	bins := 20
	if b := r.URL.Query().Get("bins"); b != "" {
		if v, err := strconv.Atoi(b); err == nil && v > 1 && v <= 100 {
			bins = v
		}
	}

	idHist := histogram(diag.IDTestProbabilities, bins)
	oodHist := histogram(diag.OODTestProbabilities, bins)

	x := make([]string, bins)
	idData := make([]opts.BarData, bins)
	oodData := make([]opts.BarData, bins)
	for i := 0; i < bins; i++ {
		x[i] = fmt.Sprintf("%.2f", (float64(i)+0.5)/float64(bins))
		idData[i] = opts.BarData{Value: idHist[i]}
		oodData[i] = opts.BarData{Value: oodHist[i]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "COOD Score Distributions", Theme: "dark", Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "COOD Probability Histograms", Subtitle: fmt.Sprintf("id=%d ood=%d bins=%d", len(diag.IDTestProbabilities), len(diag.OODTestProbabilities), bins)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "OOD probability", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Count"}),
	)
	bar.SetXAxis(x).
		AddSeries("in-distribution", idData).
		AddSeries("out-of-distribution", oodData)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// histogram counts values into bins over [0,1]. Values outside the range
// are clamped into the edge bins.
func histogram(values []float64, bins int) []int {
	counts := make([]int, bins)
	for _, v := range values {
		idx := int(v * float64(bins))
		if idx < 0 {
			idx = 0
		}
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	return counts
}
