package cli

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nip10/varyant/internal/local"
	"github.com/nip10/varyant/internal/store"
)

func newCreateCmd(a *app) *cobra.Command {
	var (
		variants    string
		flagKey     string
		description string
		metrics     []string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new experiment",
		Long: `Create a draft experiment in the local database. Variants are given as
key or key:name pairs; the control arm should use the key "control".

Examples:
  varyant create "Checkout button" --variants "control:Blue,test:Green"
  varyant create "Signup copy" --variants control,test --flag signup-copy --metric conversion:signup`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return errors.New("experiment name is empty")
			}

			variantList, err := parseVariants(variants)
			if err != nil {
				return err
			}
			metricList, err := parseMetrics(metrics)
			if err != nil {
				return err
			}
			if flagKey == "" {
				flagKey = slugify(name)
			}

			return a.withLocal(func(b *local.Backend) error {
				exp, err := b.CreateExperiment(cmd.Context(), store.NewExperiment{
					Name:           name,
					Description:    description,
					FeatureFlagKey: flagKey,
					Variants:       variantList,
					Metrics:        metricList,
				})
				if err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created experiment #%d '%s' (flag %s) with %d variants:\n",
					exp.ID, exp.Name, exp.FeatureFlagKey, len(exp.Variants))
				for _, v := range exp.Variants {
					fmt.Fprintf(out, "  %s: %s\n", v.Key, v.DisplayName())
				}
				fmt.Fprintf(out, "\nStart it with: varyant start %d\n", exp.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variants as key or key:name (required)")
	cmd.Flags().StringVar(&flagKey, "flag", "", "feature flag key (default derived from the name)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "experiment description")
	cmd.Flags().StringArrayVarP(&metrics, "metric", "m", nil, "metric as type or type:event (repeatable)")
	cmd.MarkFlagRequired("variants")

	return cmd
}

func parseVariants(s string) ([]store.Variant, error) {
	var variants []store.Variant
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, name, _ := strings.Cut(part, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("variant %q has an empty key", part)
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate variant key %q", key)
		}
		seen[key] = true
		variants = append(variants, store.Variant{Key: key, Name: strings.TrimSpace(name)})
	}
	if len(variants) < 2 {
		return nil, errors.New(`need at least 2 variants. Example: --variants "control,test"`)
	}
	return variants, nil
}

func parseMetrics(specs []string) ([]store.Metric, error) {
	metrics := make([]store.Metric, 0, len(specs))
	for _, spec := range specs {
		typ, event, _ := strings.Cut(spec, ":")
		typ = strings.TrimSpace(typ)
		if typ == "" {
			return nil, fmt.Errorf("metric %q has an empty type", spec)
		}
		metrics = append(metrics, store.Metric{Type: typ, Event: strings.TrimSpace(event)})
	}
	return metrics, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}
