package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/store"
)

var (
	diagKind string
	diagJSON bool
)

var diagnosticsCmd = &cobra.Command{
	Use:     "diagnostics",
	Aliases: []string{"diag"},
	Short:   "List parse and resolution diagnostics",
	Long: `List the non-fatal issues found while analyzing: malformed function
definitions and calls whose target could not be resolved.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.Store) error {
			diags, err := st.GetDiagnostics()
			if err != nil {
				return err
			}
			out := make([]callgraph.Diagnostic, 0, len(diags))
			for _, d := range diags {
				if diagKind == "" || string(d.Kind) == diagKind {
					out = append(out, d)
				}
			}
			if diagJSON {
				return printJSON(cmd.OutOrStdout(), out)
			}
			for _, d := range out {
				fmt.Fprintln(cmd.OutOrStdout(), d.String())
			}
			if len(out) > 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), styles.Muted.Render(fmt.Sprintf("%d diagnostics", len(out))))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(diagnosticsCmd)
	diagnosticsCmd.Flags().StringVar(&diagKind, "kind", "", "only show diagnostics of this kind (malformed_definition, unresolved_call)")
	diagnosticsCmd.Flags().BoolVar(&diagJSON, "json", false, "print JSON")
}
