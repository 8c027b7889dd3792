package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/steprunner/pkg/results"
)

var (
	colorGreen = lipgloss.Color("42")
	colorRed   = lipgloss.Color("196")
	colorDim   = lipgloss.Color("240")
	colorCyan  = lipgloss.Color("51")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	passedStyle = cellStyle.Foreground(colorGreen)
	failedStyle = cellStyle.Foreground(colorRed)
	borderStyle = lipgloss.NewStyle().Foreground(colorDim)
)

const (
	statusColumn    = 3
	maxMessageWidth = 60
)

func (a *app) newResultsCmd() *cobra.Command {
	var resultsDir, output string
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Show the accumulated step results",
		Args:  cobra.NoArgs,
		RunE: a.command(func(cmd *cobra.Command, _ []string) error {
			switch output {
			case "table", "yaml", "json":
			default:
				return usageErrorf("invalid --output %q, want table, yaml or json", output)
			}
			if _, err := os.Stat(resultsDir); err != nil {
				return fmt.Errorf("results directory: %w", err)
			}
			wr, err := results.NewStore(resultsDir).Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if output != "table" {
				data, err := results.RenderFormat(wr, output)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}
			return renderResultsTable(out, wr)
		}),
	}
	cmd.Flags().StringVar(&resultsDir, "results-dir", results.DefaultResultsDir, "Directory of the accumulated step results")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, yaml or json")
	return cmd
}

func renderResultsTable(w io.Writer, wr *results.WorkflowResult) error {
	if wr.Len() == 0 {
		_, err := fmt.Fprintln(w, "no results recorded")
		return err
	}
	list := wr.StepResults()
	var rows [][]string
	var passed, failed int
	for _, r := range list {
		status := "✓ passed"
		if r.Success() {
			passed++
		} else {
			status = "✗ failed"
			failed++
		}
		env := r.Environment()
		if env == "" {
			env = "-"
		}
		msg := runewidth.Truncate(r.Message(), maxMessageWidth, "…")
		rows = append(rows, []string{r.StepName(), r.SubStepName(), env, status, msg})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("STEP", "SUB-STEP", "ENVIRONMENT", "STATUS", "MESSAGE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == statusColumn && row >= 0 && row < len(list) {
				if list[row].Success() {
					return passedStyle
				}
				return failedStyle
			}
			return cellStyle
		})

	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return err
	}
	summary := fmt.Sprintf("%s  %s",
		passedStyle.Render(fmt.Sprintf("✓%d", passed)),
		failedStyle.Render(fmt.Sprintf("✗%d", failed)))
	_, err := fmt.Fprintln(w, summary)
	return err
}
