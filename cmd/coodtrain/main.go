// Command coodtrain builds a COOD model from exported predictions and
// reference images, reports its evaluation accuracy, persists the run,
// and optionally serves the monitoring endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/drift.report/internal/config"
	"github.com/banshee-data/drift.report/internal/fsutil"
	"github.com/banshee-data/drift.report/internal/ood"
	"github.com/banshee-data/drift.report/internal/ood/dataset"
	"github.com/banshee-data/drift.report/internal/ood/monitor"
	sqlite "github.com/banshee-data/drift.report/internal/ood/storage/sqlite"
	"github.com/banshee-data/drift.report/internal/version"
)

func main() {
	var (
		projectName    string
		idImagesDir    string
		idAnnotations  string
		oodImagesDir   string
		oodAnnotations string
		predictionsDir string
		configPath     string
		dbPath         string
		plotDir        string
		listenAddr     string
		showVersion    bool
	)

	flag.StringVar(&projectName, "project", "ood-project", "project name for the run record")
	flag.StringVar(&idImagesDir, "id-images", "", "directory of in-distribution images")
	flag.StringVar(&idAnnotations, "id-annotations", "", "directory of in-distribution annotation JSON files")
	flag.StringVar(&oodImagesDir, "ood-images", "", "directory of out-of-distribution reference images")
	flag.StringVar(&oodAnnotations, "ood-annotations", "", "directory of OOD annotation JSON files (optional)")
	flag.StringVar(&predictionsDir, "predictions", "", "directory of exported prediction JSON files")
	flag.StringVar(&configPath, "config", "", "path to tuning config JSON (optional)")
	flag.StringVar(&dbPath, "db", "ood_runs.db", "path to sqlite run database")
	flag.StringVar(&plotDir, "plots", "", "directory for score distribution PNGs (optional)")
	flag.StringVar(&listenAddr, "listen", "", "monitor HTTP listen address, e.g. :8080 (optional)")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("coodtrain %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if idImagesDir == "" || predictionsDir == "" {
		log.Fatalf("id-images and predictions must be provided")
	}
	// Exported predictions cannot be re-scored for corrupted images, so
	// the synthetic OOD fallback is unavailable here and an explicit OOD
	// image directory is required.
	if oodImagesDir == "" {
		log.Fatalf("ood-images must be provided: synthetic OOD generation needs a live inference engine")
	}

	tuning := config.EmptyTuningConfig()
	if configPath != "" {
		loaded, err := config.LoadTuningConfig(configPath)
		if err != nil {
			log.Fatalf("load tuning config: %v", err)
		}
		tuning = loaded
	}

	fs := fsutil.OSFileSystem{}
	preds, err := dataset.LoadPredictions(predictionsDir, fs)
	if err != nil {
		log.Fatalf("load predictions: %v", err)
	}
	if len(preds) == 0 {
		log.Fatalf("no prediction exports found in %s", predictionsDir)
	}
	engine := dataset.NewPrecomputedEngine(preds)

	idNames := tuning.GetIDDatasetNames()
	idSource := dataset.NewDirSource(idNames[0], idImagesDir, idAnnotations)
	oodSource := dataset.NewDirSource(tuning.GetOODDatasetNames()[0], oodImagesDir, oodAnnotations)

	project := ood.Project{
		Name: projectName,
		Tasks: []ood.Task{
			{Name: "classification", Kind: ood.TaskClassification, Trainable: true},
		},
		Sources: []ood.MediaSource{idSource},
	}

	model, err := ood.NewCOODModel(ood.Config{
		Project:          project,
		Engine:           engine,
		OODSource:        oodSource,
		IDSourceNames:    idNames,
		OODSourceNames:   tuning.GetOODDatasetNames(),
		NeighborCount:    tuning.GetKNNNeighborCount(),
		VarianceFraction: tuning.GetPCAVarianceFraction(),
		TrainRatio:       tuning.GetTrainSplitRatio(),
		ForestTrees:      tuning.GetForestTrees(),
		Seed:             tuning.GetSeed(),
	})
	if err != nil {
		log.Fatalf("build cood model: %v", err)
	}

	idTrain, idTest, oodTrain, oodTest := model.Counts()
	log.Printf("model ready: id train/test %d/%d, ood train/test %d/%d, mean accuracy %.4f",
		idTrain, idTest, oodTrain, oodTest, model.Evaluation().MeanAccuracy)

	db, err := sqlite.Open(dbPath)
	if err != nil {
		log.Fatalf("open run database: %v", err)
	}
	defer db.Close()

	runs := sqlite.NewRunStore(db)
	run := &sqlite.TrainingRun{
		ProjectName:      projectName,
		IDTrainCount:     idTrain,
		IDTestCount:      idTest,
		OODTrainCount:    oodTrain,
		OODTestCount:     oodTest,
		FeatureNames:     model.FeatureNames(),
		NeighborCount:    tuning.GetKNNNeighborCount(),
		VarianceFraction: tuning.GetPCAVarianceFraction(),
		TrainRatio:       tuning.GetTrainSplitRatio(),
		ForestTrees:      tuning.GetForestTrees(),
		Seed:             tuning.GetSeed(),
		MeanAccuracy:     model.Evaluation().MeanAccuracy,
	}
	if err := runs.Insert(run); err != nil {
		log.Fatalf("persist run: %v", err)
	}
	log.Printf("run %s persisted to %s", run.RunID, dbPath)

	if plotDir != "" {
		plotter := monitor.NewScorePlotter(plotDir, projectName, 20)
		file, err := plotter.GeneratePlot(model)
		if err != nil {
			log.Printf("score plot failed: %v", err)
		} else {
			log.Printf("score plot written to %s", file)
		}
	}

	if listenAddr == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	ws := monitor.NewWebServer(monitor.WebServerConfig{
		Address:     listenAddr,
		Model:       model,
		Runs:        runs,
		ProjectName: projectName,
	})
	if err := ws.Start(ctx); err != nil {
		log.Fatalf("monitor server: %v", err)
	}
}
