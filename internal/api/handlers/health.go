package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pluvio/hydroclim-go/internal/resources"
	"github.com/pluvio/hydroclim-go/internal/store"
)

type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	UptimeSec float64                `json:"uptime_seconds"`
	Index     string                 `json:"index"`
	Services  HealthServices         `json:"services"`
	System    map[string]interface{} `json:"system,omitempty"`
}

type HealthServices struct {
	Store string `json:"store"`
}

// HealthHandler reports service liveness and store reachability.
type HealthHandler struct {
	backend   store.Backend
	optimizer *resources.Optimizer
	indexName string
	version   string
	started   time.Time
}

func NewHealthHandler(backend store.Backend, optimizer *resources.Optimizer, indexName, version string) *HealthHandler {
	return &HealthHandler{
		backend:   backend,
		optimizer: optimizer,
		indexName: indexName,
		version:   version,
		started:   time.Now(),
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.version,
		UptimeSec: time.Since(h.started).Seconds(),
		Index:     h.indexName,
		Services:  HealthServices{Store: "ok"},
	}

	if err := h.backend.Ping(c.Request.Context()); err != nil {
		response.Services.Store = "error"
		response.Status = "degraded"
	}

	if h.optimizer != nil {
		response.System = h.optimizer.Stats(c.Request.Context())
	}

	statusCode := http.StatusOK
	if response.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
