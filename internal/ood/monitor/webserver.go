// Package monitor exposes a small HTTP surface for inspecting a trained
// COOD model: scoring individual predictions, listing persisted training
// runs, and rendering score-distribution charts.
package monitor

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/banshee-data/drift.report/internal/ood"
	sqlite "github.com/banshee-data/drift.report/internal/ood/storage/sqlite"
)

// WebServer handles the HTTP interface for a trained COOD model.
// The model is read-only from the server's perspective; all handlers
// only call accessor and scoring methods.
type WebServer struct {
	address     string
	model       *ood.COODModel
	runs        *sqlite.RunStore
	projectName string
	server      *http.Server
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address     string
	Model       *ood.COODModel
	Runs        *sqlite.RunStore
	ProjectName string
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:     config.Address,
		model:       config.Model,
		runs:        config.Runs,
		projectName: config.ProjectName,
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}

	return ws
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", ws.handleHealth)
	mux.HandleFunc("/api/ood/score", ws.handleScore)
	mux.HandleFunc("/api/ood/runs", ws.handleRuns)
	mux.HandleFunc("/api/ood/model", ws.handleModelSummary)
	mux.HandleFunc("/charts/scores", ws.handleScoreChart)

	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleScore accepts a prediction JSON body and returns the model's
// OOD probability for it.
func (ws *WebServer) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.model == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}

	var pred ood.Prediction
	if err := json.NewDecoder(r.Body).Decode(&pred); err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, "invalid prediction JSON: "+err.Error())
		return
	}

	p, err := ws.model.Score(&pred)
	if err != nil {
		ws.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]float64{"ood_probability": p})
}

// handleRuns returns the persisted training runs for the configured
// project, newest first.
func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.runs == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for run lookup")
		return
	}

	project := r.URL.Query().Get("project")
	if project == "" {
		project = ws.projectName
	}
	if project == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'project' parameter")
		return
	}

	runs, err := ws.runs.ListByProject(project)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "list runs: "+err.Error())
		return
	}
	if runs == nil {
		runs = []*sqlite.TrainingRun{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

// modelSummary is the JSON shape returned by /api/ood/model.
type modelSummary struct {
	State         string   `json:"state"`
	SubModels     []string `json:"sub_models"`
	FeatureNames  []string `json:"feature_names"`
	MeanAccuracy  float64  `json:"mean_accuracy"`
	IDTrainCount  int      `json:"id_train_count"`
	IDTestCount   int      `json:"id_test_count"`
	OODTrainCount int      `json:"ood_train_count"`
	OODTestCount  int      `json:"ood_test_count"`
}

func (ws *WebServer) handleModelSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.model == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}

	idTrain, idTest, oodTrain, oodTest := ws.model.Counts()
	summary := modelSummary{
		State:         string(ws.model.State()),
		SubModels:     ws.model.SubModelNames(),
		FeatureNames:  ws.model.FeatureNames(),
		MeanAccuracy:  ws.model.Evaluation().MeanAccuracy,
		IDTrainCount:  idTrain,
		IDTestCount:   idTest,
		OODTrainCount: oodTrain,
		OODTestCount:  oodTest,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}
