package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/dagrun/internal/graph"
	"github.com/maxkimambo/dagrun/internal/source"
)

var (
	validateFile   string
	validateFormat string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a task file and print its graph",
	Long: `Check a task file for duplicate ids, missing dependencies and cycles without
running anything. Every problem is reported, not just the first one. A valid
graph is printed in the chosen format.

EXAMPLES:
dagrun validate -f pipeline.yaml
dagrun validate -f pipeline.yaml --format mermaid > pipeline.mmd
dagrun validate -f pipeline.yaml --format dot | dot -Tsvg > pipeline.svg
`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		switch graph.Format(validateFormat) {
		case graph.FormatText, graph.FormatMermaid, graph.FormatDOT, graph.FormatJSON:
			return nil
		}
		return fmt.Errorf("--format must be one of text, mermaid, dot, json, got %q", validateFormat)
	},
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "Task file to check (required)")
	validateCmd.Flags().StringVar(&validateFormat, "format", "text", "Output format: text, mermaid, dot or json")

	_ = validateCmd.MarkFlagRequired("file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	specs, err := source.LoadFile(validateFile)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	report := graph.Validate(specs)
	if !report.Valid() {
		fmt.Fprint(out, report.String())
		return fmt.Errorf("%s is not a valid task graph", validateFile)
	}

	g := graph.New()
	if err := g.AddTasks(specs); err != nil {
		return err
	}
	if err := g.Build(); err != nil {
		return err
	}
	return g.Render(out, graph.Format(validateFormat))
}
