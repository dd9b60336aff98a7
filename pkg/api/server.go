// Package api exposes the Harness Kernel over a thin gin-gonic/gin HTTP
// surface (spec.md §6A, SPEC_FULL.md §6A): submit a spec and run it to
// completion, fetch run state, replay its event trail, and a health
// check. It is deliberately thin — handlers parse/serialize and call
// into pkg/kernel, pkg/harnessstore, and pkg/replay; no policy, budget,
// or state-machine logic lives here. Grounded on the teacher's
// pkg/api/server.go route-registration style and
// pkg/api/handler_health.go's health-check shape.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-labs/agentharness/pkg/executor"
	"github.com/tarsy-labs/agentharness/pkg/harness"
	"github.com/tarsy-labs/agentharness/pkg/harnessstore"
	"github.com/tarsy-labs/agentharness/pkg/kernel"
	"github.com/tarsy-labs/agentharness/pkg/replay"
	"github.com/tarsy-labs/agentharness/pkg/specvalidate"
)

// SpecStore is the subset of pkg/harnessstore.SpecRepository the API needs.
type SpecStore interface {
	Create(ctx context.Context, spec harness.AgentSpec) error
	Get(ctx context.Context, id string) (harness.AgentSpec, error)
}

// RunGetter is the subset of pkg/harnessstore.RunRepository the API needs
// beyond what kernel.RunStore already requires.
type RunGetter interface {
	Get(ctx context.Context, id string) (harness.AgentRun, error)
	Create(ctx context.Context, run harness.AgentRun) error
}

// Pinger checks database connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the HTTP surface to the core. ProjectDir roots the policy
// sandbox and acceptance validators for every run submitted through it.
// Executor is the TurnExecutor driving submitted runs — cmd/harnessd
// wires the scripted executor.Stub; grpcexec.Client is another
// implementation.
type Server struct {
	Kernel     *kernel.Kernel
	Validator  *specvalidate.Validator
	Specs      SpecStore
	Runs       RunGetter
	Replayer   *replay.Replayer
	Executor   executor.TurnExecutor
	ProjectDir string
	DB         Pinger
	Log        *slog.Logger
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.POST("/runs", s.handleSubmitRun)
	r.GET("/runs/:id", s.handleGetRun)
	r.GET("/runs/:id/events", s.handleListEvents)
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	dbStatus := "ok"
	if s.DB != nil {
		if err := s.DB.Ping(c.Request.Context()); err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			dbStatus = err.Error()
		}
	}
	c.JSON(code, gin.H{"status": status, "database": dbStatus})
}

type submitRunRequest struct {
	Spec harness.AgentSpec `json:"spec"`
}

// handleSubmitRun validates the posted spec, persists it, creates a
// pending run, and drives it to completion synchronously through the
// kernel (spec.md §6: not a CLI, callers observe state via the returned
// AgentRun).
func (s *Server) handleSubmitRun(c *gin.Context) {
	var req submitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Spec.ID == "" {
		req.Spec.ID = harness.NewSpecID()
	}
	result := s.Validator.Validate(req.Spec)
	if !result.IsValid() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": result.Errors})
		return
	}

	ctx := c.Request.Context()
	if err := s.Specs.Create(ctx, req.Spec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	run := harness.AgentRun{
		ID:          harness.NewRunID(),
		AgentSpecID: req.Spec.ID,
		Status:      harness.StatusPending,
	}
	if err := s.Runs.Create(ctx, run); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	finalRun, err := s.Kernel.Execute(ctx, run, req.Spec, s.Executor, s.ProjectDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, finalRun)
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.Runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, harnessstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleListEvents(c *gin.Context) {
	seq, err := s.Replayer.GetEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, seq)
}
