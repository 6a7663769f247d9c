// Package mcp exposes experiment listing and analysis as MCP tools so an
// LLM client can answer questions about running experiments.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nip10/varyant/internal/analysis"
	"github.com/nip10/varyant/internal/monitor"
	"github.com/nip10/varyant/internal/stats"
	"github.com/nip10/varyant/internal/store"
)

// Server wraps the MCP SDK server with the experiment tools registered.
type Server struct {
	MCPServer *sdkmcp.Server

	fetcher  *analysis.Fetcher
	interval time.Duration
	log      *slog.Logger
}

type Options struct {
	Version         string
	RefreshInterval time.Duration // advertised by show_live_experiment
	Logger          *slog.Logger
}

func NewServer(f *analysis.Fetcher, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = monitor.DefaultInterval
	}
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: "varyant", Version: opts.Version}, nil),
		fetcher:   f,
		interval:  opts.RefreshInterval,
		log:       log.With("component", "mcp"),
	}
	s.registerTools()
	return s
}

// Run serves over stdin/stdout until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("starting MCP server over stdio")
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_experiments",
		Description: "List experiments with their status and how long they have been running. Archived experiments are excluded unless requested.",
	}, s.handleListExperiments)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "analyze_experiment",
		Description: "Analyze one experiment: per-variant results, derived statistics and a SHIP/ITERATE/END/WAIT/INVESTIGATE recommendation with its reason.",
	}, s.handleAnalyzeExperiment)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "show_live_experiment",
		Description: "Open a live, auto-refreshing view of an experiment's results. Verifies the experiment exists and tells the user how to watch it.",
	}, s.handleShowLiveExperiment)
}

// --- Tool input/output types ---

type listExperimentsInput struct {
	IncludeArchived bool   `json:"includeArchived,omitempty" jsonschema:"include archived experiments (default false)"`
	Status          string `json:"status,omitempty" jsonschema:"only return experiments in this status: draft, running or completed"`
}

type experimentItem struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	FeatureFlagKey string   `json:"featureFlagKey"`
	Status         string   `json:"status"`
	StartDate      string   `json:"startDate,omitempty"`
	EndDate        string   `json:"endDate,omitempty"`
	DaysRunning    *int     `json:"daysRunning,omitempty"`
	Conclusion     string   `json:"conclusion,omitempty"`
	Variants       []string `json:"variants"`
}

type listExperimentsOutput struct {
	Experiments []experimentItem `json:"experiments"`
	Count       int              `json:"count"`
}

type experimentInput struct {
	ExperimentID int64 `json:"experimentId" jsonschema:"numeric experiment id"`
}

type analyzeExperimentOutput struct {
	ExperimentID     int64                  `json:"experimentId"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description,omitempty"`
	Status           string                 `json:"status"`
	StartDate        string                 `json:"startDate,omitempty"`
	DaysRunning      *int                   `json:"daysRunning,omitempty"`
	Metrics          []store.Metric         `json:"metrics"`
	ResultsAvailable bool                   `json:"resultsAvailable"`
	Significant      bool                   `json:"significant"`
	SignificanceCode string                 `json:"significanceCode"`
	Variants         []analysis.VariantView `json:"variants"`
	Stats            *stats.Derived         `json:"stats,omitempty"`
	Recommendation   string                 `json:"recommendation"`
	Reason           string                 `json:"reason"`
	Commentary       string                 `json:"commentary"`
}

type showLiveExperimentOutput struct {
	ExperimentID int64  `json:"experimentId"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

// --- Tool handlers ---

var errInvalidID = errors.New("experimentId must be a positive integer")

func (s *Server) handleListExperiments(ctx context.Context, _ *sdkmcp.CallToolRequest, input listExperimentsInput) (*sdkmcp.CallToolResult, listExperimentsOutput, error) {
	summaries, err := s.fetcher.List(ctx, analysis.ListOptions{
		IncludeArchived: input.IncludeArchived,
		Status:          store.Status(input.Status),
	})
	if err != nil {
		s.log.Warn("list_experiments failed", "err", err)
		return nil, listExperimentsOutput{}, err
	}

	items := make([]experimentItem, len(summaries))
	for i, sum := range summaries {
		items[i] = experimentItem{
			ID:             sum.ID,
			Name:           sum.Name,
			FeatureFlagKey: sum.FeatureFlagKey,
			Status:         string(sum.Status),
			StartDate:      formatTime(sum.StartDate),
			EndDate:        formatTime(sum.EndDate),
			DaysRunning:    sum.DaysRunning,
			Conclusion:     sum.Conclusion,
			Variants:       sum.Variants,
		}
	}
	return nil, listExperimentsOutput{Experiments: items, Count: len(items)}, nil
}

func (s *Server) handleAnalyzeExperiment(ctx context.Context, _ *sdkmcp.CallToolRequest, input experimentInput) (*sdkmcp.CallToolResult, analyzeExperimentOutput, error) {
	if input.ExperimentID <= 0 {
		return nil, analyzeExperimentOutput{}, errInvalidID
	}

	a, err := analysis.Analyze(ctx, s.fetcher, input.ExperimentID)
	if err != nil {
		s.log.Warn("analyze_experiment failed", "experiment_id", input.ExperimentID, "err", err)
		return nil, analyzeExperimentOutput{}, err
	}

	v := analysis.BuildView(a)
	metrics := a.Experiment.Metrics
	if metrics == nil {
		metrics = []store.Metric{}
	}
	return nil, analyzeExperimentOutput{
		ExperimentID:     a.Experiment.ID,
		Name:             a.Experiment.Name,
		Description:      a.Experiment.Description,
		Status:           string(a.Status),
		StartDate:        formatTime(a.Experiment.StartDate),
		DaysRunning:      a.DaysRunning,
		Metrics:          metrics,
		ResultsAvailable: a.Results.Available,
		Significant:      a.Results.Significant,
		SignificanceCode: a.Results.SignificanceCode,
		Variants:         v.Variants,
		Stats:            a.Stats,
		Recommendation:   string(a.Recommendation.Action),
		Reason:           a.Recommendation.Reason,
		Commentary:       v.Commentary,
	}, nil
}

func (s *Server) handleShowLiveExperiment(ctx context.Context, _ *sdkmcp.CallToolRequest, input experimentInput) (*sdkmcp.CallToolResult, showLiveExperimentOutput, error) {
	if input.ExperimentID <= 0 {
		return nil, showLiveExperimentOutput{}, errInvalidID
	}

	snap, err := s.fetcher.Fetch(ctx, input.ExperimentID)
	if err != nil {
		return nil, showLiveExperimentOutput{}, err
	}

	exp := snap.Experiment
	return nil, showLiveExperimentOutput{
		ExperimentID: exp.ID,
		Name:         exp.Name,
		Status:       string(exp.Status()),
		Message: fmt.Sprintf("Live view for %q is available. Run `varyant watch %d` to follow results as they refresh every %s.",
			exp.Name, exp.ID, s.interval),
	}, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
