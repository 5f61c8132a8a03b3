package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pluvio/hydroclim-go/internal/engine"
	"github.com/pluvio/hydroclim-go/internal/logging"
	"github.com/pluvio/hydroclim-go/internal/notify"
	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/internal/utils"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

const dateLayout = "2006-01-02"

// ComputeHandler exposes the orchestrator over HTTP: triggering runs,
// inspecting past runs and cases, and ingesting raw data.
type ComputeHandler struct {
	orchestrator *engine.Orchestrator
	notifier     *notify.Notifier
	events       *logging.StandardLogger
	log          *logrus.Entry
}

type ComputeRequest struct {
	Start string `json:"start" binding:"required"`
	End   string `json:"end" binding:"required"`
}

type IngestRequest struct {
	Time  string    `json:"time" binding:"required"`
	Cells []float64 `json:"cells" binding:"required"`
}

type TimestepsResponse struct {
	Cadence   int         `json:"cadence"`
	Count     int         `json:"count"`
	Timesteps []time.Time `json:"timesteps"`
}

func NewComputeHandler(o *engine.Orchestrator, n *notify.Notifier, events *logging.StandardLogger) *ComputeHandler {
	return &ComputeHandler{
		orchestrator: o,
		notifier:     n,
		events:       events,
		log:          logrus.WithField("component", "api"),
	}
}

// Compute runs the full pipeline over the requested range and returns
// the run report. Only one run may be active at a time.
func (h *ComputeHandler) Compute(c *gin.Context) {
	var req ComputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	start, err := time.Parse(dateLayout, req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start date, expected YYYY-MM-DD"})
		return
	}
	end, err := time.Parse(dateLayout, req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end date, expected YYYY-MM-DD"})
		return
	}

	report, err := h.orchestrator.Compute(c.Request.Context(), start, end)
	if errors.Is(err, engine.ErrRunInFlight) {
		c.JSON(http.StatusConflict, gin.H{"error": "A computation run is already in progress"})
		return
	}
	if report == nil {
		if utils.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Computation failed"})
		return
	}

	h.events.LogRunCompleted(h.orchestrator.Definition().Name, report.ID,
		report.TotalWrites(), report.FailedSteps(), report.Duration().Milliseconds())

	if h.notifier != nil && h.notifier.Enabled() {
		go func(r *engine.RunReport) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := h.notifier.RunFinished(ctx, r); err != nil {
				h.log.WithError(err).Warn("Run notification failed")
			}
		}(report)
	}

	// isolated failures come back as 207 so the report still reaches the
	// caller; a run that failed outright returns 500 with the report body
	status := http.StatusOK
	switch {
	case err != nil && report.FailedSteps() > 0:
		status = http.StatusMultiStatus
	case err != nil:
		status = http.StatusInternalServerError
	}
	c.JSON(status, report)
}

// GetRuns lists recent run reports, newest first.
func (h *ComputeHandler) GetRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": h.orchestrator.Reports().List()})
}

// GetRun returns a single run report by ID.
func (h *ComputeHandler) GetRun(c *gin.Context) {
	report, ok := h.orchestrator.Reports().Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetCases returns the expanded case layers of the configured index.
func (h *ComputeHandler) GetCases(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.Cases())
}

// GetTimesteps previews the timesteps a range would expand to at the
// configured cadence, or at an explicit ?cadence override.
func (h *ComputeHandler) GetTimesteps(c *gin.Context) {
	start, err := time.Parse(dateLayout, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start date, expected YYYY-MM-DD"})
		return
	}
	end, err := time.Parse(dateLayout, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end date, expected YYYY-MM-DD"})
		return
	}

	cadence := h.orchestrator.Definition().Cadence
	if raw := c.Query("cadence"); raw != "" {
		cadence, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cadence"})
			return
		}
	}

	timesteps, err := timeline.Timesteps(start, end, cadence)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, TimestepsResponse{
		Cadence:   cadence,
		Count:     len(timesteps),
		Timesteps: timesteps,
	})
}

// IngestRaw writes one raw data grid at a timestep.
func (h *ComputeHandler) IngestRaw(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	t, err := time.Parse(dateLayout, req.Time)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid time, expected YYYY-MM-DD"})
		return
	}
	if len(req.Cells) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cells must not be empty"})
		return
	}

	raw := h.orchestrator.RawHandle()
	started := time.Now()
	if err := raw.Write(c.Request.Context(), raster.Grid(req.Cells), t); err != nil {
		h.log.WithError(err).Error("Raw data write failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store raw data"})
		return
	}
	if key, err := raw.Key(); err == nil {
		h.events.LogStoreOperation("write", key, time.Since(started).Milliseconds())
	}

	c.JSON(http.StatusCreated, gin.H{
		"time":  t.Format(dateLayout),
		"cells": len(req.Cells),
	})
}
