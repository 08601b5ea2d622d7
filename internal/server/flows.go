package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/flowkit/internal/compiler"
	"github.com/roach88/flowkit/internal/engine"
	"github.com/roach88/flowkit/internal/ir"
	"github.com/roach88/flowkit/internal/persist"
	"github.com/roach88/flowkit/internal/registry"
	"github.com/roach88/flowkit/internal/state"
)

// Errors reported in API error bodies.
var (
	// ErrFlowNotFound means no loaded flow has the requested name (404).
	ErrFlowNotFound = errors.New("flow not found")
	// ErrStateNotFound means the backend holds no snapshot for the id (404).
	ErrStateNotFound = errors.New("state not found")
	// ErrPersistenceOff is returned by routes that need a backend when the
	// server runs without one.
	ErrPersistenceOff = errors.New("persistence is not configured")
	// ErrInvalidJSON wraps a request body that does not decode (400).
	ErrInvalidJSON = errors.New("invalid JSON")
	// ErrCreateFlowInstance wraps a failure to build or restore the engine
	// for a kickoff.
	ErrCreateFlowInstance = errors.New("failed to create flow instance")
)

type (
	// FlowSummary describes one loaded flow type.
	FlowSummary struct {
		Name    string `json:"name"`
		Source  string `json:"source,omitempty"`
		Methods int    `json:"methods"`
		Starts  int    `json:"starts"`
	}

	// FlowsListResponse is the body of GET /flows.
	FlowsListResponse struct {
		Flows []FlowSummary `json:"flows"`
		Count int           `json:"count"`
	}

	// FlowResponse is the body of GET /flows/:name.
	FlowResponse struct {
		Name     string                  `json:"name"`
		Fields   []string                `json:"fields,omitempty"`
		Methods  []registry.SpecInfo     `json:"methods"`
		Warnings []compiler.CycleWarning `json:"warnings"`
	}

	// KickoffRequest is the body of POST /flows/:name/kickoff.
	KickoffRequest struct {
		Inputs    map[string]any `json:"inputs"`
		RestoreID string         `json:"restore_id"`
	}

	// KickoffResponse reports one run. Error is set when the run was halted
	// (step bound, cancellation) after producing a partial report.
	KickoffResponse struct {
		RunID    string          `json:"run_id"`
		FlowID   string          `json:"flow_id"`
		Output   any             `json:"output"`
		Outputs  []engine.Output `json:"outputs"`
		Counts   map[string]int  `json:"counts"`
		Failures []string        `json:"failures,omitempty"`
		Error    string          `json:"error,omitempty"`
	}
)

func (s *Server) listFlows(c *gin.Context) {
	flows := make([]FlowSummary, 0, len(s.names))
	for _, name := range s.names {
		d := s.flows[name]
		flows = append(flows, FlowSummary{
			Name:    d.Name,
			Source:  d.Source,
			Methods: d.Registry.Len(),
			Starts:  len(d.Registry.StartMethods()),
		})
	}
	c.JSON(http.StatusOK, FlowsListResponse{Flows: flows, Count: len(flows)})
}

func (s *Server) flow(c *gin.Context) (*compiler.Definition, bool) {
	name := c.Param("name")
	d, ok := s.flows[name]
	if !ok {
		abort(c, http.StatusNotFound, fmt.Errorf("%w: %s", ErrFlowNotFound, name))
	}
	return d, ok
}

func (s *Server) getFlow(c *gin.Context) {
	d, ok := s.flow(c)
	if !ok {
		return
	}
	res := FlowResponse{
		Name:     d.Name,
		Methods:  d.Registry.Describe(),
		Warnings: d.Warnings,
	}
	if d.Schema != nil {
		res.Fields = d.Schema.Fields()
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) kickoff(c *gin.Context) {
	d, ok := s.flow(c)
	if !ok {
		return
	}

	var req KickoffRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abort(c, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInvalidJSON, err))
		return
	}
	if req.RestoreID != "" && s.backend == nil {
		abort(c, http.StatusBadRequest, ErrPersistenceOff)
		return
	}

	eng, err := s.newEngine(c, d, req.RestoreID)
	if err != nil {
		abort(c, statusFor(err), fmt.Errorf("%w: %v", ErrCreateFlowInstance, err))
		return
	}

	inputs, _ := ir.NormalizeNumbers(req.Inputs).(map[string]any)
	report, err := eng.Execute(c.Request.Context(), inputs)
	if report == nil {
		abort(c, statusFor(err), err)
		return
	}

	res := KickoffResponse{
		RunID:   report.RunID,
		FlowID:  report.FlowID,
		Output:  report.Output,
		Outputs: report.Outputs,
		Counts:  report.Counts,
	}
	for _, f := range report.Failures {
		res.Failures = append(res.Failures, f.Error())
	}
	if err != nil {
		res.Error = err.Error()
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) newEngine(c *gin.Context, d *compiler.Definition, restoreID string) (*engine.Engine, error) {
	container, err := d.NewContainer()
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{
		engine.WithState(container),
		engine.WithLogger(s.logger),
		engine.WithMaxSteps(s.maxSteps),
		engine.WithSink(s.hub),
	}
	if s.backend != nil {
		opts = append(opts,
			engine.WithLoader(s.backend),
			engine.WithSink(persist.New(s.backend, container,
				persist.WithLogger(s.logger),
				persist.WithContext(c.Request.Context()))),
		)
		if restoreID != "" {
			opts = append(opts, engine.WithRestore(c.Request.Context(), s.backend, restoreID))
		}
	}
	return engine.New(d.Registry, opts...)
}

func (s *Server) getState(c *gin.Context) {
	if _, ok := s.flow(c); !ok {
		return
	}
	if s.backend == nil {
		abort(c, http.StatusNotFound, ErrPersistenceOff)
		return
	}

	id := c.Param("id")
	snap, found, err := s.backend.Load(c.Request.Context(), id)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	if !found {
		abort(c, http.StatusNotFound, fmt.Errorf("%w: %s", ErrStateNotFound, id))
		return
	}
	c.JSON(http.StatusOK, snap)
}

func statusFor(err error) int {
	switch {
	case state.IsValidationError(err), state.IsRestoreError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrNoStartMethod):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
