// Package posthog reads experiments and their results from the PostHog
// REST API.
package posthog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nip10/varyant/internal/store"
)

// Config holds PostHog API connection settings.
type Config struct {
	Host      string // e.g. https://eu.posthog.com
	ProjectID string
	APIKey    string // personal API key, sent as a Bearer token
}

// Client is a PostHog API client implementing store.Store.
type Client struct {
	HTTPClient *http.Client
	Config     Config
}

var _ store.Store = (*Client)(nil)

// NewClient returns a client with the given config and a 30s HTTP timeout.
func NewClient(cfg Config) *Client {
	cfg.Host = strings.TrimSuffix(cfg.Host, "/")
	return &Client{Config: cfg, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

// StatusError is returned for unexpected HTTP responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("posthog %s: %d %s", e.Op, e.Status, e.Body)
}

// Minimal API response shapes for unmarshalling.
type phExperiment struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Description    *string `json:"description"`
	FeatureFlagKey string  `json:"feature_flag_key"`
	StartDate      *string `json:"start_date"`
	EndDate        *string `json:"end_date"`
	Archived       bool    `json:"archived"`
	Deleted        bool    `json:"deleted"`
	CreatedAt      string  `json:"created_at"`
	Conclusion     *string `json:"conclusion"`
	FeatureFlag    *struct {
		Filters struct {
			Multivariate *struct {
				Variants []phVariant `json:"variants"`
			} `json:"multivariate"`
		} `json:"filters"`
	} `json:"feature_flag"`
	Parameters struct {
		FeatureFlagVariants []phVariant `json:"feature_flag_variants"`
	} `json:"parameters"`
	Metrics []struct {
		MetricType string `json:"metric_type"`
		Series     []struct {
			Event string `json:"event"`
		} `json:"series"`
	} `json:"metrics"`
}

type phVariant struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type phList struct {
	Next    *string        `json:"next"`
	Results []phExperiment `json:"results"`
}

type phResults struct {
	Result *struct {
		Significant       bool                  `json:"significant"`
		SignificanceCode  string                `json:"significance_code"`
		Probability       map[string]float64    `json:"probability"`
		CredibleIntervals map[string][2]float64 `json:"credible_intervals"`
		Variants          []struct {
			Key              string `json:"key"`
			Count            int    `json:"count"`
			AbsoluteExposure int    `json:"absolute_exposure"`
			SuccessCount     *int   `json:"success_count"`
		} `json:"variants"`
	} `json:"result"`
}

func (c *Client) projectURL(path string) string {
	return fmt.Sprintf("%s/api/projects/%s/%s", c.Config.Host, c.Config.ProjectID, path)
}

func (c *Client) get(ctx context.Context, op, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if c.Config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.Config.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("posthog %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", op, err)
	}
	return nil
}

func (c *Client) GetExperiment(ctx context.Context, id int64) (*store.Experiment, error) {
	var exp phExperiment
	if err := c.get(ctx, "experiment", c.projectURL(fmt.Sprintf("experiments/%d/", id)), &exp); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return nil, fmt.Errorf("experiment %d: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	return exp.toExperiment(), nil
}

// ListExperiments follows pagination links until the last page.
func (c *Client) ListExperiments(ctx context.Context) ([]*store.Experiment, error) {
	var all []*store.Experiment
	url := c.projectURL("experiments/")
	for url != "" {
		var page phList
		if err := c.get(ctx, "experiments", url, &page); err != nil {
			return nil, err
		}
		for _, e := range page.Results {
			if e.Deleted {
				continue
			}
			all = append(all, e.toExperiment())
		}
		url = ""
		if page.Next != nil {
			url = *page.Next
		}
	}
	return all, nil
}

// GetExperimentResults maps "not started" (400) and "not found" (404)
// responses to store.ErrNoResults.
func (c *Client) GetExperimentResults(ctx context.Context, id int64) (*store.ResultsSnapshot, error) {
	var res phResults
	if err := c.get(ctx, "experiment results", c.projectURL(fmt.Sprintf("experiments/%d/results/", id)), &res); err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Status == http.StatusNotFound || se.Status == http.StatusBadRequest) {
			return nil, fmt.Errorf("experiment %d: %s: %w", id, se.Body, store.ErrNoResults)
		}
		return nil, err
	}
	if res.Result == nil {
		return nil, fmt.Errorf("experiment %d: empty result: %w", id, store.ErrNoResults)
	}

	r := res.Result
	snap := &store.ResultsSnapshot{
		Significant:      r.Significant,
		SignificanceCode: r.SignificanceCode,
		Probability:      r.Probability,
		Variants:         make([]store.VariantResult, 0, len(r.Variants)),
	}
	if len(r.CredibleIntervals) > 0 {
		snap.CredibleIntervals = make(map[string]store.Interval, len(r.CredibleIntervals))
		for k, iv := range r.CredibleIntervals {
			snap.CredibleIntervals[k] = store.Interval{Low: iv[0], High: iv[1]}
		}
	}
	for _, v := range r.Variants {
		conversions := v.Count
		if v.SuccessCount != nil {
			conversions = *v.SuccessCount
		}
		snap.Variants = append(snap.Variants, store.VariantResult{
			Key:          v.Key,
			Participants: v.AbsoluteExposure,
			Conversions:  conversions,
		})
	}
	return snap, nil
}

func (e *phExperiment) toExperiment() *store.Experiment {
	exp := &store.Experiment{
		ID:             e.ID,
		Name:           e.Name,
		FeatureFlagKey: e.FeatureFlagKey,
		StartDate:      parseTime(e.StartDate),
		EndDate:        parseTime(e.EndDate),
		Archived:       e.Archived,
	}
	if e.Description != nil {
		exp.Description = *e.Description
	}
	if e.Conclusion != nil {
		exp.Conclusion = *e.Conclusion
	}
	if t := parseTime(&e.CreatedAt); t != nil {
		exp.CreatedAt = *t
	}

	variants := e.Parameters.FeatureFlagVariants
	if e.FeatureFlag != nil && e.FeatureFlag.Filters.Multivariate != nil && len(e.FeatureFlag.Filters.Multivariate.Variants) > 0 {
		variants = e.FeatureFlag.Filters.Multivariate.Variants
	}
	for _, v := range variants {
		exp.Variants = append(exp.Variants, store.Variant{Key: v.Key, Name: v.Name})
	}

	for _, m := range e.Metrics {
		metric := store.Metric{Type: m.MetricType}
		if len(m.Series) > 0 {
			metric.Event = m.Series[0].Event
		}
		exp.Metrics = append(exp.Metrics, metric)
	}
	return exp
}

func parseTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}
