package ood

import (
	"fmt"
	"image"
	"math/rand"
	"reflect"
	"strings"
	"testing"
)

// fakeSource is an in-memory MediaSource.
type fakeSource struct {
	name  string
	media []Media
}

func (s *fakeSource) Name() string            { return s.name }
func (s *fakeSource) Media() ([]Media, error) { return s.media, nil }

// fakeEngine serves canned predictions keyed by media name. Media with
// an "_ood" suffix and no canned prediction get a synthetic far-away
// embedding, which lets the corruption fallback path work in tests.
type fakeEngine struct {
	preds     map[string]*Prediction
	embedding bool
}

func (e *fakeEngine) HasEmbeddingHead() bool { return e.embedding }

func (e *fakeEngine) Explain(md Media) (*Prediction, error) {
	if pred, ok := e.preds[md.Name]; ok {
		return pred, nil
	}
	if strings.HasSuffix(md.Name, "_ood") {
		return oodPrediction(rand.New(rand.NewSource(int64(len(md.Name))))), nil
	}
	return nil, fmt.Errorf("no prediction for media %q", md.Name)
}

var testClasses = []string{"ant", "bee", "fly", "moth", "wasp"}

const embeddingDim = 8

// idPrediction builds an embedding near the class axis with a confident
// correct prediction.
func idPrediction(class int, rng *rand.Rand) *Prediction {
	fv := make([]float64, embeddingDim)
	fv[class] = 1
	for j := range fv {
		fv[j] += rng.NormFloat64() * 0.05
	}
	return &Prediction{
		Labels: []ScoredLabel{
			{Name: testClasses[class], Probability: 0.9 + rng.Float64()*0.1},
			{Name: testClasses[(class+1)%len(testClasses)], Probability: 0.05},
		},
		FeatureVector: fv,
	}
}

// oodPrediction builds an embedding away from every class axis with a
// hesitant prediction.
func oodPrediction(rng *rand.Rand) *Prediction {
	fv := make([]float64, embeddingDim)
	fv[len(testClasses)] = 1 // axis no ID class occupies
	fv[len(testClasses)+1] = 1
	for j := range fv {
		fv[j] += rng.NormFloat64() * 0.3
	}
	return &Prediction{
		Labels: []ScoredLabel{
			{Name: testClasses[rng.Intn(len(testClasses))], Probability: 0.3 + rng.Float64()*0.2},
		},
		FeatureVector: fv,
	}
}

// buildFixture assembles a classification project with an ID source, an
// OOD source, and an engine covering both.
func buildFixture(t *testing.T, idPerClass, oodCount int) (Project, *fakeEngine, *fakeSource) {
	t.Helper()
	rng := rand.New(rand.NewSource(99))

	preds := make(map[string]*Prediction)
	var idMedia []Media
	for c, class := range testClasses {
		for i := 0; i < idPerClass; i++ {
			name := fmt.Sprintf("%s_%03d", class, i)
			preds[name] = idPrediction(c, rng)
			idMedia = append(idMedia, Media{Name: name, AnnotatedLabel: class})
		}
	}

	var oodMedia []Media
	for i := 0; i < oodCount; i++ {
		name := fmt.Sprintf("outlier_%03d", i)
		preds[name] = oodPrediction(rng)
		oodMedia = append(oodMedia, Media{Name: name})
	}

	project := Project{
		Name: "insects",
		Tasks: []Task{
			{Name: "classify", Kind: TaskClassification, Trainable: true},
		},
		Sources: []MediaSource{
			&fakeSource{name: "Dataset", media: idMedia},
		},
	}
	engine := &fakeEngine{preds: preds, embedding: true}
	oodSource := &fakeSource{name: "outliers", media: oodMedia}
	return project, engine, oodSource
}

func TestNewCOODModelEndToEnd(t *testing.T) {
	project, engine, oodSource := buildFixture(t, 20, 40)

	model, err := NewCOODModel(Config{
		Project:   project,
		Engine:    engine,
		OODSource: oodSource,
		Seed:      1,
	})
	if err != nil {
		t.Fatalf("NewCOODModel: %v", err)
	}

	if model.State() != StateReady {
		t.Errorf("State() = %q, want ready", model.State())
	}

	wantSubModels := []string{"knn_based", "class_fre", "global_fre", "max_softmax_probability"}
	if got := model.SubModelNames(); !reflect.DeepEqual(got, wantSubModels) {
		t.Errorf("SubModelNames() = %v, want %v", got, wantSubModels)
	}

	wantFeatures := []string{
		"knn_distance",
		"nn_distance",
		"average_nn_distance",
		"entropy_score",
		"enwedi_score",
		"enwedi_nn_score",
		"min_class_fre_score",
		"predicted_class_fre_score",
		"diff_min_and_predicted_class_fre",
		"global_fre_score",
		"max_softmax_probability",
	}
	if got := model.FeatureNames(); !reflect.DeepEqual(got, wantFeatures) {
		t.Errorf("FeatureNames() = %v, want %v", got, wantFeatures)
	}

	// 100 ID at 0.9 stratified: 18 train + 2 test per class. 40 OOD at
	// 0.9: 36 train, 4 test.
	idTrain, idTest, oodTrain, oodTest := model.Counts()
	if idTrain != 90 || idTest != 10 {
		t.Errorf("ID counts = %d/%d, want 90/10", idTrain, idTest)
	}
	if oodTrain != 36 || oodTest != 4 {
		t.Errorf("OOD counts = %d/%d, want 36/4", oodTrain, oodTest)
	}

	// Synthetic populations are cleanly separated; the ensemble should
	// get well above chance on the test split.
	if acc := model.Evaluation().MeanAccuracy; acc < 0.75 {
		t.Errorf("MeanAccuracy = %f, want >= 0.75", acc)
	}

	diag := model.Diagnostics()
	if len(diag.IDTestProbabilities) != idTest {
		t.Errorf("ID diagnostics count = %d, want %d", len(diag.IDTestProbabilities), idTest)
	}
	if len(diag.OODTestProbabilities) != oodTest {
		t.Errorf("OOD diagnostics count = %d, want %d", len(diag.OODTestProbabilities), oodTest)
	}
	for _, p := range append(append([]float64{}, diag.IDTestProbabilities...), diag.OODTestProbabilities...) {
		if p < 0 || p > 1 {
			t.Errorf("diagnostic probability %f outside [0,1]", p)
		}
	}
}

func TestCOODModelScore(t *testing.T) {
	project, engine, oodSource := buildFixture(t, 20, 40)
	model, err := NewCOODModel(Config{
		Project:   project,
		Engine:    engine,
		OODSource: oodSource,
		Seed:      1,
	})
	if err != nil {
		t.Fatalf("NewCOODModel: %v", err)
	}

	rng := rand.New(rand.NewSource(5))
	pID, err := model.Score(idPrediction(0, rng))
	if err != nil {
		t.Fatalf("Score ID prediction: %v", err)
	}
	pOOD, err := model.Score(oodPrediction(rng))
	if err != nil {
		t.Fatalf("Score OOD prediction: %v", err)
	}

	for _, p := range []float64{pID, pOOD} {
		if p < 0 || p > 1 {
			t.Errorf("probability %f outside [0,1]", p)
		}
	}
	if pOOD <= pID {
		t.Errorf("OOD probability %f not above ID probability %f", pOOD, pID)
	}

	// Same prediction scores identically on repeat calls
	again, err := model.Score(idPrediction(0, rand.New(rand.NewSource(5))))
	if err != nil {
		t.Fatal(err)
	}
	if again != pID {
		t.Errorf("repeat score = %f, want %f", again, pID)
	}
}

func TestNewCOODModelDeterministic(t *testing.T) {
	build := func() *COODModel {
		project, engine, oodSource := buildFixture(t, 12, 24)
		model, err := NewCOODModel(Config{
			Project:   project,
			Engine:    engine,
			OODSource: oodSource,
			Seed:      1234,
		})
		if err != nil {
			t.Fatalf("NewCOODModel: %v", err)
		}
		return model
	}

	first := build()
	second := build()

	if first.Evaluation() != second.Evaluation() {
		t.Errorf("same seed produced different evaluations: %v vs %v",
			first.Evaluation(), second.Evaluation())
	}
	if !reflect.DeepEqual(first.Diagnostics(), second.Diagnostics()) {
		t.Error("same seed produced different diagnostic probabilities")
	}
}

func TestNewCOODModelCorruptionFallback(t *testing.T) {
	project, engine, _ := buildFixture(t, 12, 0)

	// Attach pixel data so the cutout transform has something to work on
	for si, src := range project.Sources {
		fs := src.(*fakeSource)
		for i := range fs.media {
			fs.media[i].Image = image.NewRGBA(image.Rect(0, 0, 32, 32))
		}
		project.Sources[si] = fs
	}

	model, err := NewCOODModel(Config{
		Project: project,
		Engine:  engine,
		Seed:    1,
	})
	if err != nil {
		t.Fatalf("NewCOODModel with corruption fallback: %v", err)
	}

	_, _, oodTrain, oodTest := model.Counts()
	if oodTrain+oodTest != 60 {
		t.Errorf("synthetic OOD count = %d, want one per ID image (60)", oodTrain+oodTest)
	}
}

func TestNewCOODModelPreconditions(t *testing.T) {
	project, engine, oodSource := buildFixture(t, 12, 24)

	t.Run("no embedding head", func(t *testing.T) {
		blind := &fakeEngine{preds: engine.preds, embedding: false}
		_, err := NewCOODModel(Config{Project: project, Engine: blind, OODSource: oodSource})
		if err == nil {
			t.Error("expected error for engine without embedding head")
		}
	})

	t.Run("nil engine", func(t *testing.T) {
		_, err := NewCOODModel(Config{Project: project, OODSource: oodSource})
		if err == nil {
			t.Error("expected error for missing engine")
		}
	})

	t.Run("wrong task kind", func(t *testing.T) {
		bad := project
		bad.Tasks = []Task{{Name: "detect", Kind: TaskDetection, Trainable: true}}
		_, err := NewCOODModel(Config{Project: bad, Engine: engine, OODSource: oodSource})
		if err == nil {
			t.Error("expected error for detection task")
		}
	})

	t.Run("multiple trainable tasks", func(t *testing.T) {
		bad := project
		bad.Tasks = []Task{
			{Name: "one", Kind: TaskClassification, Trainable: true},
			{Name: "two", Kind: TaskClassification, Trainable: true},
		}
		_, err := NewCOODModel(Config{Project: bad, Engine: engine, OODSource: oodSource})
		if err == nil {
			t.Error("expected error for multi-task project")
		}
	})

	t.Run("no ID source", func(t *testing.T) {
		bad := project
		bad.Sources = nil
		_, err := NewCOODModel(Config{Project: bad, Engine: engine, OODSource: oodSource})
		if err == nil {
			t.Error("expected error for project without ID source")
		}
	})
}

func TestCOODModelScoreNotReady(t *testing.T) {
	m := &COODModel{}
	if _, err := m.Score(&Prediction{}); err == nil {
		t.Error("expected error scoring an unbuilt model")
	}
}
