package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/balkashynov/proctor/internal/bus"
	"github.com/balkashynov/proctor/internal/db"
	"github.com/balkashynov/proctor/internal/models"
	"github.com/balkashynov/proctor/internal/parser"
	"github.com/balkashynov/proctor/internal/participant"
	"github.com/balkashynov/proctor/internal/tui"
)

var examCmd = &cobra.Command{
	Use:   "exam [student-key]",
	Short: "Take the exam as a student",
	Long: `Start or resume the exam for a registered student. Opens the exam screen
by default; use --no-ui for a line-by-line prompt.

Leaving the exam screen (q) keeps the session open: running the command
again resumes it with the same clock and answers. Switching away from the
terminal, or suspending it, counts as a violation.

Examples:
  proctor exam cs042          # Interactive exam screen
  proctor exam cs042 --no-ui  # Plain prompts`,
	Args: cobra.ExactArgs(1),
	Run:  withApp(interactive, runExam),
}

func init() {
	examCmd.Flags().Bool("no-ui", false, "Answer on plain prompts instead of the exam screen")
}

func runExam(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	profile, err := a.users.Profile(ctx, args[0])
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return fmt.Errorf("student %q is not registered, add them with 'proctor user add'", args[0])
		}
		return err
	}
	questions, err := a.questions.Questions(ctx)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return fmt.Errorf("the question bank is empty, add questions with 'proctor question add'")
	}
	duration := a.cfg.ExamDuration()

	agent, err := participant.New(participant.Config{
		Profile:            profile,
		Store:              a.store,
		Results:            a.results,
		Questions:          questions,
		Camera:             a.camera(),
		Blobs:              a.blobs,
		Bus:                a.bus,
		Logger:             a.logger,
		ExamDuration:       duration,
		HeartbeatInterval:  a.cfg.HeartbeatInterval(),
		SnapshotInterval:   a.cfg.SnapshotInterval(),
		SyncInterval:       a.cfg.SyncInterval(),
		ViolationThreshold: a.cfg.Exam.ViolationThreshold,
		SnapshotCapacity:   a.cfg.Exam.SnapshotCapacity,
	})
	if err != nil {
		return err
	}

	rec, resumed, err := agent.StartSession(ctx)
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	runErr := make(chan error, 1)
	go func() { runErr <- agent.Run(runCtx) }()

	var ended *bus.SessionEndedEvent
	if interactive(cmd) {
		ended, err = tui.RunExamTUI(ctx, agent, a.bus)
	} else {
		ended, err = runPlainExam(ctx, agent, a.bus, rec, resumed)
	}
	stop()
	<-runErr
	if err != nil {
		return err
	}

	if ended == nil {
		fmt.Printf("Exam left open for %s. Run 'proctor exam %s' to resume before %s.\n",
			profile.DisplayName, profile.Key, rec.StartTime.Add(duration).Local().Format("15:04:05"))
		return nil
	}
	printEnded(ended)
	return nil
}

// runPlainExam asks every question on stdin. Notices from the agent are
// printed as they arrive.
func runPlainExam(ctx context.Context, agent *participant.Agent, b *bus.Bus, rec *models.SessionRecord, resumed bool) (*bus.SessionEndedEvent, error) {
	sub := b.Subscribe("participant.")
	defer b.Unsubscribe(sub)

	endedCh := make(chan bus.SessionEndedEvent, 1)
	go func() {
		for ev := range sub.Ch() {
			switch p := ev.Payload.(type) {
			case bus.ViolationEvent:
				fmt.Printf("\n⚠️  %s (%d/%d)\n", p.Notice, p.ViolationCount, p.Threshold)
			case bus.SessionEndedEvent:
				endedCh <- p
				return
			}
		}
	}()

	if resumed {
		fmt.Printf("Resuming exam started at %s\n", rec.StartTime.Local().Format("15:04:05"))
	}
	fmt.Printf("Time remaining: %s\n\n", parser.FormatRemaining(agent.Remaining()))

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	questions := agent.Questions()
	for i := agent.CurrentQuestion(); i < len(questions); i++ {
		q := questions[i]
		fmt.Printf("Q%d/%d (%d mark(s), %s left): %s\n", i+1, len(questions), q.Marks, parser.FormatRemaining(agent.Remaining()), q.Text)
		for j, opt := range q.Options {
			fmt.Printf("  %d) %s\n", j+1, opt)
		}
		if prev, ok := agent.Answers()[q.ID]; ok {
			fmt.Printf("Answer [%d, enter to keep]: ", prev+1)
		} else {
			fmt.Print("Answer (enter to skip): ")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev := <-endedCh:
			return &ev, nil
		case line, ok := <-lines:
			if !ok {
				return nil, nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				if err := agent.SetCurrentQuestion(ctx, i+1); err != nil && !errors.Is(err, models.ErrSessionEnded) {
					return nil, err
				}
				continue
			}
			n, err := strconv.Atoi(line)
			if err != nil || n < 1 || n > len(q.Options) {
				fmt.Printf("Pick a number between 1 and %d\n", len(q.Options))
				i--
				continue
			}
			if err := agent.SelectAnswer(ctx, q.ID, n-1); err != nil && !errors.Is(err, models.ErrSessionEnded) {
				return nil, err
			}
		}
	}

	if agent.State() == participant.StateInProgress {
		if _, err := agent.Submit(ctx); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
	select {
	case ev := <-endedCh:
		return &ev, nil
	case <-agent.Done():
		result, err := agent.Result()
		return &bus.SessionEndedEvent{StudentKey: rec.StudentKey, Reason: agent.EndReason(), Result: result, Err: err}, nil
	}
}

func printEnded(ev *bus.SessionEndedEvent) {
	switch ev.Reason {
	case models.EndSubmitted:
		fmt.Println("✅ Exam submitted")
	case models.EndTimeExpired:
		fmt.Println("⏰ Time is up, exam submitted")
	case models.EndViolationLimit:
		fmt.Println("🚫 Exam ended: too many violations")
	case models.EndForceEnded:
		fmt.Println("🚫 Exam ended by the invigilator")
	}
	if r := ev.Result; r != nil {
		fmt.Printf("Score: %d%% (%d/%d marks), violations: %d\n", r.Score, r.ObtainedMarks, r.TotalMarks, r.ViolationCount)
	} else if ev.Err != nil {
		fmt.Printf("Error: result not saved: %v\n", ev.Err)
	}
}
