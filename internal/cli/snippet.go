package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/nip10/varyant/internal/snippets"
	"github.com/nip10/varyant/internal/store"
)

func newSnippetCmd(a *app) *cobra.Command {
	var (
		framework string
		serverURL string
	)

	cmd := &cobra.Command{
		Use:   "snippet <id>",
		Short: "Generate tracking code for an experiment",
		Long: `Generate copy-paste code that assigns visitors to a variant and reports
exposures and conversions to the beacon endpoint of "varyant serve".

Examples:
  varyant snippet 12 --framework html
  varyant snippet 12 -f react --server-url https://ab.example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := store.ParseID(args[0])
			if err != nil {
				return err
			}

			return a.withStore(func(st store.Store) error {
				exp, err := st.GetExperiment(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("failed to get experiment: %w", err)
				}

				fw := snippets.Framework(framework)
				if framework == "" {
					fw = snippets.FrameworkHTML
					if isTerminal(os.Stdin) {
						if fw, err = promptFramework(); err != nil {
							return err
						}
					}
				}

				url := serverURL
				if url == "" {
					url = fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)
				}

				keys := make([]string, len(exp.Variants))
				for i, v := range exp.Variants {
					keys[i] = v.Key
				}

				files, err := snippets.Generate(fw, snippets.Config{
					ExperimentID: exp.ID,
					FlagKey:      exp.FeatureFlagKey,
					Variants:     keys,
					ServerURL:    url,
				})
				if err != nil {
					return fmt.Errorf("failed to generate snippet: %w", err)
				}

				printSnippets(cmd.OutOrStdout(), files)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&framework, "framework", "f", "", "target: html, react or shell (prompted when omitted on a terminal)")
	cmd.Flags().StringVarP(&serverURL, "server-url", "s", "", "public URL of varyant serve (default http://localhost:<port>)")

	return cmd
}

func promptFramework() (snippets.Framework, error) {
	labels := map[snippets.Framework]string{
		snippets.FrameworkHTML:  "HTML (vanilla JavaScript)",
		snippets.FrameworkReact: "React hook",
		snippets.FrameworkShell: "Shell (curl, server-side)",
	}
	items := make([]string, len(snippets.Frameworks))
	for i, f := range snippets.Frameworks {
		items[i] = labels[f]
	}

	prompt := promptui.Select{
		Label: "Select framework",
		Items: items,
	}

	idx, _, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return "", errors.New("cancelled")
		}
		return "", err
	}
	return snippets.Frameworks[idx], nil
}

func printSnippets(w io.Writer, files []snippets.SnippetFile) {
	for i, file := range files {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, strings.Repeat("=", 62))
		fmt.Fprintf(w, " %s\n", file.Filename)
		fmt.Fprintln(w, strings.Repeat("=", 62))
		fmt.Fprintln(w)
		fmt.Fprintln(w, file.Content)
	}
}
