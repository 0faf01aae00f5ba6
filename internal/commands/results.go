package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/balkashynov/proctor/internal/parser"
)

var resultsCmd = &cobra.Command{
	Use:   "results [student-key]",
	Short: "Show exam results",
	Long: `Show submitted results, newest first. Without a key, shows everyone's.

Examples:
  proctor results
  proctor results asha@uni.edu --json`,
	Args: cobra.MaximumNArgs(1),
	Run: withApp(alwaysQuiet, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		key := ""
		if len(args) == 1 {
			key = strings.ToLower(strings.TrimSpace(args[0]))
		}
		results, err := a.results.Results(ctx, key)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(results)
		}
		if len(results) == 0 {
			fmt.Println("No results yet.")
			return nil
		}

		fmt.Printf("%-20s %-20s %-8s %-7s %-9s %-5s %-15s %s\n", "KEY", "NAME", "ROLL", "SCORE", "MARKS", "VIOL", "END", "SUBMITTED")
		fmt.Println(strings.Repeat("-", 100))
		for _, r := range results {
			name := r.StudentName
			if len(name) > 18 {
				name = name[:15] + "..."
			}
			fmt.Printf("%-20s %-20s %-8s %-7s %-9s %-5d %-15s %s\n",
				r.StudentKey, name, orDash(r.RollNumber),
				fmt.Sprintf("%d%%", r.Score), fmt.Sprintf("%d/%d", r.ObtainedMarks, r.TotalMarks),
				r.ViolationCount, r.EndReason, r.SubmittedAt.Local().Format("02/01 15:04"))
		}
		if key != "" && len(results) > 0 {
			fmt.Printf("\nLatest attempt took %s\n", parser.FormatRemaining(time.Duration(results[0].DurationSeconds)*time.Second))
		}
		return nil
	}),
}

func init() {
	resultsCmd.Flags().Bool("json", false, "JSON output")
}
