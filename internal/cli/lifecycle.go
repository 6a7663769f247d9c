package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/nip10/varyant/internal/local"
	"github.com/nip10/varyant/internal/store"
)

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start a draft experiment",
		Long: `Start a draft experiment. Events are only analyzed once an experiment
has started.

Example:
  varyant start 12`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := store.ParseID(args[0])
			if err != nil {
				return err
			}
			return a.withLocal(func(b *local.Backend) error {
				if err := b.StartExperiment(cmd.Context(), id, time.Now()); err != nil {
					return fmt.Errorf("failed to start experiment: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Experiment #%d is now running.\n", id)
				return nil
			})
		},
	}
}

func newEndCmd(a *app) *cobra.Command {
	var conclusion string

	cmd := &cobra.Command{
		Use:   "end <id>",
		Short: "End a running experiment",
		Long: `End a running experiment and record an optional conclusion.

Example:
  varyant end 12 --conclusion "Green button won, shipped"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := store.ParseID(args[0])
			if err != nil {
				return err
			}
			return a.withLocal(func(b *local.Backend) error {
				if err := b.EndExperiment(cmd.Context(), id, time.Now(), conclusion); err != nil {
					return fmt.Errorf("failed to end experiment: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Experiment #%d has been marked as completed.\n", id)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&conclusion, "conclusion", "", "what was decided")
	return cmd
}

func newArchiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <id>",
		Short: "Hide an experiment from listings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := store.ParseID(args[0])
			if err != nil {
				return err
			}
			return a.withLocal(func(b *local.Backend) error {
				if err := b.ArchiveExperiment(cmd.Context(), id); err != nil {
					return fmt.Errorf("failed to archive experiment: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Experiment #%d archived.\n", id)
				return nil
			})
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an experiment and all of its events",
		Long: `Delete an experiment and its recorded events permanently. Use archive
to only hide it from listings.

Example:
  varyant delete 12 --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := store.ParseID(args[0])
			if err != nil {
				return err
			}
			return a.withLocal(func(b *local.Backend) error {
				ctx := cmd.Context()
				exp, err := b.GetExperiment(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to get experiment: %w", err)
				}

				if !force {
					if !isTerminal(os.Stdin) {
						return errors.New("refusing to delete without --force")
					}
					prompt := promptui.Prompt{
						Label:     fmt.Sprintf("Delete experiment #%d '%s' and all its events", exp.ID, exp.Name),
						IsConfirm: true,
					}
					if _, err := prompt.Run(); err != nil {
						return errors.New("cancelled")
					}
				}

				if err := b.DeleteExperiment(ctx, id); err != nil {
					return fmt.Errorf("failed to delete experiment: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Experiment #%d deleted.\n", id)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "delete without confirmation")
	return cmd
}
