package main

import (
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/crmkit/taskbridge/internal/auth/credential"
	"github.com/crmkit/taskbridge/internal/auth/crm"
	"github.com/crmkit/taskbridge/internal/cache"
	"github.com/crmkit/taskbridge/internal/config"
	"github.com/crmkit/taskbridge/internal/db"
	"github.com/crmkit/taskbridge/internal/httpapi"
	"github.com/crmkit/taskbridge/internal/remote"
	"github.com/crmkit/taskbridge/internal/taskops"
	"github.com/crmkit/taskbridge/internal/version"
	"github.com/crmkit/taskbridge/internal/webhook"
)

func main() {
	configPath := os.Getenv("TASKBRIDGE_CONFIG")
	if configPath == "" {
		configPath = "taskbridge.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// The token endpoint does not depend on the per-request redirect URL,
	// so the manager can hold one oauth config for refreshes.
	credManager := credential.NewManager(database, crm.OAuthConfig(cfg.CRM, ""))
	crmClient := remote.NewClient(credManager, cfg.CRM.BaseURL, cfg.CRM.APIVersion, cfg.CRM.LocationID)

	taskCache := cache.NewTaskStore()
	pipelineCache := cache.NewPipelineStore()
	reconciler := webhook.NewReconciler(database, taskCache)
	service := taskops.NewService(database, crmClient, taskCache, pipelineCache)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(httpapi.RequestID)

	// OAuth connect flow
	r.Get("/auth/crm/login", crm.HandleLogin(cfg.CRM))
	r.Get("/auth/crm/callback", crm.HandleCallback(credManager))

	// Inbound webhooks from the CRM (authenticated by obscurity of the
	// configured endpoint; the CRM cannot send custom auth headers)
	r.Post("/webhooks/opportunity", httpapi.ProcessWebhookHandler(reconciler))

	// API routes (API key required)
	r.Route("/api", func(r chi.Router) {
		r.Use(httpapi.APIKeyAuth(database))
		r.Get("/health", httpapi.HealthHandler(credManager))
		r.Get("/pipelines", httpapi.PipelinesHandler(service))
		r.Get("/pipelines/{pipelineId}/tasks", httpapi.TasksHandler(service))
		r.Get("/pipelines/{pipelineId}/analytics", httpapi.AnalyticsHandler(service))
		r.Patch("/tasks/{taskId}/status", httpapi.UpdateTaskStatusHandler(service))
		r.Patch("/tasks/{taskId}/assignee", httpapi.AssignTaskHandler(service))
		r.Patch("/tasks/{taskId}/due-date", httpapi.UpdateTaskDueDateHandler(service))
	})

	log.Printf("🚀 taskbridge %s starting on http://%s", version.Version, cfg.ListenAddr)
	log.Printf("🔗 Connect CRM: http://%s/auth/crm/login", cfg.ListenAddr)
	log.Printf("📬 Webhook endpoint: http://%s/webhooks/opportunity", cfg.ListenAddr)

	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
