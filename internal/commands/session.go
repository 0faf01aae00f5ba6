package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/balkashynov/proctor/internal/models"
	"github.com/balkashynov/proctor/internal/parser"
)

var warnCmd = &cobra.Command{
	Use:   "warn [student-key] [note]",
	Short: "Warn a student (counts as a violation)",
	Long: `Send a warning to an active exam. The warning shows up on the student's
screen and counts toward the violation limit.

Example:
  proctor warn cs042 "eyes on your own screen"`,
	Args: cobra.MinimumNArgs(1),
	Run: withApp(alwaysQuiet, func(ctx context.Context, _ *cobra.Command, args []string, a *app) error {
		agg, err := newAggregator(a, nil)
		if err != nil {
			return err
		}
		rec, err := agg.SendWarning(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("⚠️  Warned %s: %d violation(s) so far\n", rec.StudentKey, rec.ViolationCount)
		return nil
	}),
}

var endCmd = &cobra.Command{
	Use:   "end [student-key]",
	Short: "Force-end a student's exam",
	Long: `End an active exam from the invigilator's side. The student's exam is
graded with the answers given so far and closed on their screen.

Example:
  proctor end cs042 --reason "phone on desk"`,
	Args: cobra.ExactArgs(1),
	Run: withApp(alwaysQuiet, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		reason, _ := cmd.Flags().GetString("reason")
		agg, err := newAggregator(a, nil)
		if err != nil {
			return err
		}
		rec, err := agg.ForceEnd(ctx, args[0], reason)
		if err != nil {
			return err
		}
		if rec.EndReason != models.EndForceEnded {
			fmt.Printf("Exam of %s had already ended (%s)\n", rec.StudentKey, rec.EndReason)
			return nil
		}
		fmt.Printf("⏹️  Ended exam of %s at %s\n", rec.StudentKey, rec.EndTime.Local().Format("15:04:05"))
		return nil
	}),
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List every session record, including ended ones",
	Args:  cobra.NoArgs,
	Run: withApp(alwaysQuiet, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		table, err := a.store.ReadAll(ctx)
		if err != nil {
			return err
		}
		records := table.Records()
		if asJSON {
			return printJSON(struct {
				Revision int64                   `json:"revision"`
				Sessions []*models.SessionRecord `json:"sessions"`
			}{table.Revision, records})
		}

		if len(records) == 0 {
			fmt.Println("No sessions.")
		} else {
			fmt.Printf("%-12s %-8s %-16s %-9s %-5s %-5s %s\n", "KEY", "STATUS", "STARTED", "ELAPSED", "VIOL", "SNAP", "END")
			fmt.Println(strings.Repeat("-", 80))
			now := time.Now()
			for _, rec := range records {
				status, end := "active", "-"
				if !rec.IsActive {
					status = "ended"
					end = string(rec.EndReason)
					if rec.EndTime != nil {
						end += " " + parser.FormatAgo(*rec.EndTime, now)
					}
				}
				fmt.Printf("%-12s %-8s %-16s %-9s %-5d %-5d %s\n",
					rec.StudentKey, status, rec.StartTime.Local().Format("02/01 15:04:05"),
					parser.FormatRemaining(rec.Elapsed(now)), rec.ViolationCount, len(rec.SnapshotHistory), end)
			}
		}

		quarantined, err := a.store.QuarantinedKeys(ctx)
		if err != nil {
			return err
		}
		if len(quarantined) > 0 {
			sort.Strings(quarantined)
			fmt.Printf("\n⚠️  %d unreadable table copies kept aside: %s\n", len(quarantined), strings.Join(quarantined, ", "))
		}
		return nil
	}),
}

func init() {
	endCmd.Flags().String("reason", "", "Reason for ending, kept in the log")
	sessionsCmd.Flags().Bool("json", false, "JSON output")
}

func alwaysQuiet(*cobra.Command) bool { return true }
