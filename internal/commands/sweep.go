package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/balkashynov/proctor/internal/retention"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete ended and abandoned session records",
	Long: `Run the retention passes over the session store:

  grace  deletes sessions that ended more than the grace period ago
  age    deletes sessions with no activity for longer than the TTL,
         active or not

Both passes remove the snapshots and saved answers of deleted sessions.
With --daemon the passes run on their configured cron schedules until
interrupted.

Examples:
  proctor sweep              # Run both passes once
  proctor sweep --age-only
  proctor sweep --daemon`,
	Args: cobra.NoArgs,
	Run: withApp(func(cmd *cobra.Command) bool {
		daemon, _ := cmd.Flags().GetBool("daemon")
		return !daemon
	}, runSweep),
}

func init() {
	sweepCmd.Flags().Bool("daemon", false, "Keep running the passes on their schedules")
	sweepCmd.Flags().Bool("grace-only", false, "Run only the grace pass")
	sweepCmd.Flags().Bool("age-only", false, "Run only the age pass")
}

func runSweep(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
	daemon, _ := cmd.Flags().GetBool("daemon")
	graceOnly, _ := cmd.Flags().GetBool("grace-only")
	ageOnly, _ := cmd.Flags().GetBool("age-only")
	if graceOnly && ageOnly {
		return fmt.Errorf("--grace-only and --age-only are mutually exclusive")
	}

	sweeper, err := retention.New(retention.Config{
		Store:         a.store,
		Blobs:         a.blobs,
		Logger:        a.logger,
		Grace:         a.cfg.Grace(),
		TTL:           a.cfg.TTL(),
		GraceSchedule: a.cfg.Retention.GraceSchedule,
		AgeSchedule:   a.cfg.Retention.AgeSchedule,
	})
	if err != nil {
		return err
	}

	if daemon {
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
		fmt.Printf("Sweeping on schedule (grace %q, age %q). Ctrl+C to stop.\n",
			a.cfg.Retention.GraceSchedule, a.cfg.Retention.AgeSchedule)
		<-ctx.Done()
		sweeper.Stop()
		return nil
	}

	if !ageOnly {
		removed, err := sweeper.GracePass(ctx)
		if err != nil {
			return err
		}
		printSwept("grace", removed)
	}
	if !graceOnly {
		removed, err := sweeper.AgePass(ctx)
		if err != nil {
			return err
		}
		printSwept("age", removed)
	}
	return nil
}

func printSwept(pass string, keys []string) {
	if len(keys) == 0 {
		fmt.Printf("%s pass: nothing to delete\n", pass)
		return
	}
	fmt.Printf("%s pass: deleted %d session(s): %s\n", pass, len(keys), strings.Join(keys, ", "))
}
