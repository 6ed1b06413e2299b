package ood

import (
	"fmt"
	"image"
)

// TaskKind identifies the kind of model task a project trains.
type TaskKind string

const (
	// TaskClassification is a single-label classification task.
	TaskClassification TaskKind = "classification"
	// TaskDetection is an object detection task.
	TaskDetection TaskKind = "detection"
	// TaskSegmentation is a segmentation task.
	TaskSegmentation TaskKind = "segmentation"
)

// Task describes one trainable task within a project.
type Task struct {
	Name      string
	Kind      TaskKind
	Trainable bool
}

// Media is one image from a media source, with an optional ground-truth
// label from its companion annotation.
type Media struct {
	Name           string
	Image          image.Image
	AnnotatedLabel string
}

// MediaSource is a named collection of images, the external collaborator
// the orchestrator pulls reference data from.
type MediaSource interface {
	// Name identifies the source; the orchestrator matches it against
	// the configured ID/OOD source names.
	Name() string
	// Media returns the images of the source with any annotations.
	Media() ([]Media, error)
}

// Engine is the inference collaborator: it scores media through the
// trained classification model. COOD needs engines with an embedding
// head, so Explain must populate Prediction.FeatureVector.
type Engine interface {
	// Explain runs inference on the media and returns the prediction
	// including the model's internal feature embedding.
	Explain(md Media) (*Prediction, error)
	// HasEmbeddingHead reports whether Explain populates feature
	// vectors. Engines without one cannot back a COOD model.
	HasEmbeddingHead() bool
}

// Project carries the metadata and media sources of the platform
// project a COOD model is built for.
type Project struct {
	Name    string
	Tasks   []Task
	Sources []MediaSource
}

// TrainableTasks returns the project's trainable tasks.
func (p *Project) TrainableTasks() []Task {
	var out []Task
	for _, t := range p.Tasks {
		if t.Trainable {
			out = append(out, t)
		}
	}
	return out
}

// checkFit verifies the project is a single-task classification
// project, the only shape OOD detection currently supports.
func (p *Project) checkFit() error {
	tasks := p.TrainableTasks()
	if len(tasks) != 1 {
		return fmt.Errorf("project %q has %d trainable tasks; OOD detection supports single-task projects only", p.Name, len(tasks))
	}
	if tasks[0].Kind != TaskClassification {
		return fmt.Errorf("project %q task is %q; OOD detection supports classification tasks only", p.Name, tasks[0].Kind)
	}
	return nil
}

// sourcesNamed returns the project sources whose names appear in names,
// preserving the project's source order.
func (p *Project) sourcesNamed(names []string) []MediaSource {
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}
	var out []MediaSource
	for _, src := range p.Sources {
		if _, ok := wanted[src.Name()]; ok {
			out = append(out, src)
		}
	}
	return out
}
