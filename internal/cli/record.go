package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nip10/varyant/internal/local"
	"github.com/nip10/varyant/internal/store"
)

func newRecordCmd(a *app) *cobra.Command {
	var (
		variant string
		event   string
		visitor string
	)

	cmd := &cobra.Command{
		Use:   "record <id>",
		Short: "Record an exposure or conversion",
		Long: `Record one event for a visitor, for server-side tracking or scripts.
Repeated events of the same type for the same visitor are ignored.

Examples:
  varyant record 12 --variant test --event exposure --visitor user-42
  varyant record 12 --variant test --event conversion --visitor user-42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := store.ParseID(args[0])
			if err != nil {
				return err
			}
			if event != store.EventExposure && event != store.EventConversion {
				return fmt.Errorf("invalid event %q: must be %s or %s", event, store.EventExposure, store.EventConversion)
			}
			if visitor == "" {
				visitor = uuid.NewString()
			}

			return a.withLocal(func(b *local.Backend) error {
				if err := b.RecordEvent(cmd.Context(), id, variant, event, visitor); err != nil {
					return fmt.Errorf("failed to record event: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for visitor %s on variant %s.\n", event, visitor, variant)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "variant key (required)")
	cmd.Flags().StringVarP(&event, "event", "e", store.EventExposure, "event type: exposure or conversion")
	cmd.Flags().StringVar(&visitor, "visitor", "", "visitor id (default a random UUID)")
	cmd.MarkFlagRequired("variant")

	return cmd
}
