package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"dev/bravebird/uiverify/pkg/browser"
	"dev/bravebird/uiverify/pkg/config"
	"dev/bravebird/uiverify/pkg/database"
	"dev/bravebird/uiverify/pkg/metrics"
	"dev/bravebird/uiverify/pkg/temporal/activities"
	"dev/bravebird/uiverify/pkg/temporal/workflows"
)

func main() {
	cfg, err := config.Load(os.Getenv("UIVERIFY_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort: cfg.TemporalHost,
		Logger:   slog.Default(),
	})
	if err != nil {
		log.Fatalf("Failed to create Temporal client: %v", err)
	}
	defer c.Close()

	// One browser process per worker; every scenario gets its own incognito page.
	manager := browser.NewManager(browser.Config{
		ChromeBin:  cfg.Browser.ChromeBin,
		ControlURL: cfg.Browser.ControlURL,
		Headless:   cfg.Headless,
		NoSandbox:  cfg.Browser.NoSandbox,
		Stealth:    cfg.Browser.Stealth,
	})
	if err := manager.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start browser: %v", err)
	}
	defer manager.Close()

	acts := activities.NewActivities(manager.Factory(), nil, cfg.ArtifactDir)
	acts.Scenarios = cfg.ScenarioOptions()

	if cfg.MySQLDSN != "" {
		db, err := database.New(cfg.MySQLDSN)
		if err != nil {
			log.Printf("Warning: Failed to connect to database: %v", err)
			log.Println("Results will not be persisted")
		} else {
			defer db.Close()
			acts.Store = db
		}
	}

	recorder := metrics.NewRecorder(nil)
	acts.Hooks = recorder
	acts.Observer = recorder
	if cfg.MetricsAddr != "" {
		go func() {
			log.Printf("Serving metrics on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, recorder.Handler()); err != nil {
				log.Printf("Metrics server stopped: %v", err)
			}
		}()
	}

	// Browser scenarios are heavy; keep activity concurrency low.
	w := worker.New(c, workflows.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     4,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(workflows.VerificationWorkflow)
	w.RegisterWorkflow(workflows.ScenarioWorkflow)
	w.RegisterActivity(acts)

	log.Printf("Starting Temporal worker on task queue: %s", workflows.TaskQueue)
	log.Printf("Temporal host: %s", cfg.TemporalHost)
	log.Printf("Artifacts: %s", cfg.ArtifactDir)

	err = w.Run(worker.InterruptCh())
	if err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}
