// Package dataset provides filesystem-backed media and prediction
// sources for the OOD pipeline: an images directory with a companion
// annotations directory, and prediction exports for training without a
// live model runtime.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/banshee-data/drift.report/internal/fsutil"
	"github.com/banshee-data/drift.report/internal/monitoring"
	"github.com/banshee-data/drift.report/internal/ood"
)

// imageExtensions are the image file extensions the loader picks up.
var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
}

// annotationFile is the on-disk annotation record shape. Only the first
// annotation's first label is read.
type annotationFile struct {
	Annotations []struct {
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"annotations"`
}

// DirSource is a MediaSource over an images directory with an optional
// companion annotations directory of per-image JSON files.
type DirSource struct {
	name           string
	imagesDir      string
	annotationsDir string
	fs             fsutil.FileSystem
}

// NewDirSource creates a source over the OS filesystem. An empty
// annotationsDir means the media carry no ground-truth labels.
func NewDirSource(name, imagesDir, annotationsDir string) *DirSource {
	return NewDirSourceFS(name, imagesDir, annotationsDir, fsutil.OSFileSystem{})
}

// NewDirSourceFS creates a source over an explicit filesystem, used by
// tests with an in-memory filesystem.
func NewDirSourceFS(name, imagesDir, annotationsDir string, fs fsutil.FileSystem) *DirSource {
	return &DirSource{
		name:           name,
		imagesDir:      imagesDir,
		annotationsDir: annotationsDir,
		fs:             fs,
	}
}

// Name returns the source name matched against the configured ID/OOD
// source name lists.
func (s *DirSource) Name() string { return s.name }

// Media lists the images directory, decodes each image, and attaches
// the annotated label when a companion annotation file exists. Media
// names are the image file names without extension.
func (s *DirSource) Media() ([]ood.Media, error) {
	entries, err := s.fs.ReadDir(s.imagesDir)
	if err != nil {
		return nil, fmt.Errorf("list images dir %s: %w", s.imagesDir, err)
	}

	var media []ood.Media
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry))
		if _, ok := imageExtensions[ext]; !ok {
			continue
		}

		data, err := s.fs.ReadFile(filepath.Join(s.imagesDir, entry))
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", entry, err)
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode image %s: %w", entry, err)
		}

		base := strings.TrimSuffix(entry, filepath.Ext(entry))
		label, err := s.annotatedLabel(base)
		if err != nil {
			return nil, err
		}

		media = append(media, ood.Media{
			Name:           base,
			Image:          img,
			AnnotatedLabel: label,
		})
	}

	if len(media) == 0 {
		return nil, fmt.Errorf("no images found in %s", s.imagesDir)
	}
	return media, nil
}

// annotatedLabel reads <base>.json from the annotations directory and
// returns the first annotation's first label name. A missing directory
// or file yields no label.
func (s *DirSource) annotatedLabel(base string) (string, error) {
	if s.annotationsDir == "" {
		return "", nil
	}
	path := filepath.Join(s.annotationsDir, base+".json")
	if !s.fs.Exists(path) {
		return "", nil
	}

	data, err := s.fs.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read annotation %s: %w", path, err)
	}
	var ann annotationFile
	if err := json.Unmarshal(data, &ann); err != nil {
		return "", fmt.Errorf("parse annotation %s: %w", path, err)
	}
	if len(ann.Annotations) == 0 || len(ann.Annotations[0].Labels) == 0 {
		monitoring.Logf("annotation %s has no labels; treating media as unlabeled", path)
		return "", nil
	}
	return ann.Annotations[0].Labels[0].Name, nil
}

var _ ood.MediaSource = (*DirSource)(nil)

// LoadPredictions reads a directory of per-media prediction exports
// (<media name>.json, each a serialized Prediction) keyed by media
// name.
func LoadPredictions(dir string, fs fsutil.FileSystem) (map[string]*ood.Prediction, error) {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list predictions dir %s: %w", dir, err)
	}

	preds := make(map[string]*ood.Prediction)
	for _, entry := range entries {
		if strings.ToLower(filepath.Ext(entry)) != ".json" {
			continue
		}
		data, err := fs.ReadFile(filepath.Join(dir, entry))
		if err != nil {
			return nil, fmt.Errorf("read prediction %s: %w", entry, err)
		}
		var pred ood.Prediction
		if err := json.Unmarshal(data, &pred); err != nil {
			return nil, fmt.Errorf("parse prediction %s: %w", entry, err)
		}
		base := strings.TrimSuffix(entry, filepath.Ext(entry))
		preds[base] = &pred
	}

	if len(preds) == 0 {
		return nil, fmt.Errorf("no prediction exports found in %s", dir)
	}
	return preds, nil
}

// PrecomputedEngine is an ood.Engine backed by exported predictions
// keyed by media name. It lets the CLI train a COOD model without a
// live model runtime; it cannot score media it has no export for, so
// the synthetic-corruption OOD fallback is unavailable with it.
type PrecomputedEngine struct {
	preds       map[string]*ood.Prediction
	embeddingOK bool
}

// NewPrecomputedEngine wraps a prediction map. The engine reports an
// embedding head only when every prediction carries a feature vector.
func NewPrecomputedEngine(preds map[string]*ood.Prediction) *PrecomputedEngine {
	embeddingOK := len(preds) > 0
	for _, p := range preds {
		if len(p.FeatureVector) == 0 {
			embeddingOK = false
			break
		}
	}
	return &PrecomputedEngine{preds: preds, embeddingOK: embeddingOK}
}

// Explain looks up the exported prediction for the media name.
func (e *PrecomputedEngine) Explain(md ood.Media) (*ood.Prediction, error) {
	pred, ok := e.preds[md.Name]
	if !ok {
		return nil, fmt.Errorf("no exported prediction for media %q", md.Name)
	}
	return pred, nil
}

// HasEmbeddingHead reports whether every export carries a feature
// vector.
func (e *PrecomputedEngine) HasEmbeddingHead() bool { return e.embeddingOK }

var _ ood.Engine = (*PrecomputedEngine)(nil)
