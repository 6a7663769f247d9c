package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nip10/varyant/internal/local"
	"github.com/nip10/varyant/internal/store"
)

func newExportCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export raw event data",
		Long: `Export raw event data in CSV or JSON format.

Examples:
  varyant export 12 --format csv > checkout.csv
  varyant export 12 --format json > checkout.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "csv" && format != "json" {
				return fmt.Errorf("invalid format: must be 'csv' or 'json'")
			}
			id, err := store.ParseID(args[0])
			if err != nil {
				return err
			}

			return a.withLocal(func(b *local.Backend) error {
				ctx := cmd.Context()

				// Verify experiment exists
				if _, err := b.GetExperiment(ctx, id); err != nil {
					return fmt.Errorf("failed to get experiment: %w", err)
				}

				events, err := b.GetEvents(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to get events: %w", err)
				}

				if format == "csv" {
					return exportCSV(cmd.OutOrStdout(), events)
				}
				return exportJSON(cmd.OutOrStdout(), id, events)
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format (csv or json)")
	return cmd
}

func exportCSV(out io.Writer, events []*store.Event) error {
	w := csv.NewWriter(out)

	if err := w.Write([]string{"timestamp", "variant", "event_type", "visitor_id"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, e := range events {
		row := []string{
			strconv.FormatInt(e.CreatedAt.Unix(), 10),
			e.VariantKey,
			e.EventType,
			e.VisitorID,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

type jsonExport struct {
	ExperimentID int64       `json:"experimentId"`
	Events       []jsonEvent `json:"events"`
}

type jsonEvent struct {
	Timestamp int64  `json:"timestamp"`
	Variant   string `json:"variant"`
	EventType string `json:"eventType"`
	VisitorID string `json:"visitorId"`
}

func exportJSON(out io.Writer, id int64, events []*store.Event) error {
	export := jsonExport{
		ExperimentID: id,
		Events:       make([]jsonEvent, len(events)),
	}

	for i, e := range events {
		export.Events[i] = jsonEvent{
			Timestamp: e.CreatedAt.Unix(),
			Variant:   e.VariantKey,
			EventType: e.EventType,
			VisitorID: e.VisitorID,
		}
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
