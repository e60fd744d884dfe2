package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/handlers"
	"github.com/ecocrm-platform/ecocrm-stack/common/middleware"
)

// NewRouter constructs a ServeMux with the platform API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", h.HealthCheck)
	mux.Handle("/metrics", promhttp.Handler())

	// Webhook intake
	mux.HandleFunc("/webhooks/chatwoot", h.ChatwootWebhook)

	// Bot studio registry
	mux.HandleFunc("/agents", h.Agents)
	mux.HandleFunc("/agents/", h.AgentByID)
	mux.HandleFunc("/tasks", h.Tasks)
	mux.HandleFunc("/tasks/", h.TaskByID)
	mux.HandleFunc("/crews", h.Crews)
	mux.HandleFunc("/crews/", h.CrewSubroutes)
	mux.HandleFunc("/versions/", h.VersionByID)

	// Run history (read side)
	mux.HandleFunc("/runs", h.Runs)
	mux.HandleFunc("/runs/", h.RunByID)

	// Accounts
	mux.HandleFunc("/auth/register", h.Register)
	mux.HandleFunc("/auth/login", h.Login)
	mux.HandleFunc("/users", h.Users)

	// Test lab
	mux.HandleFunc("/test-runs", h.TestRuns)
	mux.HandleFunc("/test-runs/", h.TestRunSubroutes)

	// Knowledge bases
	mux.HandleFunc("/knowledge-bases", h.KnowledgeBases)
	mux.HandleFunc("/knowledge-bases/", h.KnowledgeBaseSubroutes)

	// AI catalog
	mux.HandleFunc("/ai/providers", h.AIProviders)
	mux.HandleFunc("/ai/providers/", h.AIProviderByID)
	mux.HandleFunc("/ai/models", h.AIModels)
	mux.HandleFunc("/ai/models/", h.AIModelByID)
	mux.HandleFunc("/ai/usage", h.AIUsage)

	// BI read endpoints over the analytics marts
	mux.HandleFunc("/bi/inbox-volume", h.BIInboxVolume)
	mux.HandleFunc("/bi/agent-volume", h.BIAgentVolume)
	mux.HandleFunc("/bi/time-metrics", h.BITimeMetrics)
	mux.HandleFunc("/bi/backlog", h.BIBacklog)

	return middleware.RequestID(mux)
}
