package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/balkashynov/proctor/internal/bus"
	"github.com/balkashynov/proctor/internal/capture"
	"github.com/balkashynov/proctor/internal/config"
	"github.com/balkashynov/proctor/internal/db"
	"github.com/balkashynov/proctor/internal/store"
	"github.com/balkashynov/proctor/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "proctor",
	Short: "Proctored exams from the terminal",
	Long: `proctor runs timed multiple-choice exams in the terminal and lets an
invigilator watch every active session live: violations, snapshots,
warnings and forced ends, all through one shared session store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// app is everything a command needs, wired from the loaded config
type app struct {
	cfg    config.Config
	logger *slog.Logger
	bus    *bus.Bus
	store  *store.Store

	users     *db.UserService
	questions *db.QuestionService
	results   *db.ResultService
	blobs     *capture.DirSink

	closers []io.Closer
}

// setup loads config, opens the log and the database, and builds the
// session store over the database blobs. quiet keeps logs off stderr,
// which interactive screens need.
func setup(quiet bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if level, _ := rootCmd.PersistentFlags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	if err := db.Initialize(cfg.HomeDir); err != nil {
		_ = logCloser.Close()
		return nil, err
	}

	blobs, err := capture.NewDirSink(cfg.SnapshotDir())
	if err != nil {
		_ = logCloser.Close()
		_ = db.Close()
		return nil, err
	}

	b := bus.New()
	a := &app{
		cfg:    cfg,
		logger: logger,
		bus:    b,
		store: store.New(db.NewBlobService(db.DB), store.Options{
			Recovery:   store.Recovery(cfg.Store.Recovery),
			MaxRetries: cfg.Store.MaxRetries,
			Logger:     logger,
			Bus:        b,
		}),
		users:     db.NewUserService(db.DB),
		questions: db.NewQuestionService(db.DB),
		results:   db.NewResultService(db.DB),
		blobs:     blobs,
		closers:   []io.Closer{logCloser},
	}
	return a, nil
}

func (a *app) camera() capture.Camera {
	if len(a.cfg.Capture.Command) == 0 {
		return capture.NoCamera{}
	}
	return capture.NewCommandCamera(a.cfg.Capture.Command, a.cfg.CaptureTimeout())
}

func (a *app) close() {
	if err := db.Close(); err != nil {
		a.logger.Warn("database not closed cleanly", "error", err)
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
}

// withApp wraps a command so it runs with a wired app and exits non-zero
// on error
func withApp(quiet func(*cobra.Command) bool, fn func(context.Context, *cobra.Command, []string, *app) error) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		q := quiet != nil && quiet(cmd)
		a, err := setup(q)
		if err != nil {
			fail(err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = fn(ctx, cmd, args, a)
		stop()
		a.close()
		if err != nil && !errors.Is(err, context.Canceled) {
			fail(err)
		}
	}
}

// interactive reports whether a TUI can be shown: a terminal on both
// ends and no --no-ui flag
func interactive(cmd *cobra.Command) bool {
	if noUI, _ := cmd.Flags().GetBool("no-ui"); noUI {
		return false
	}
	return isTerminal(os.Stdout) && isTerminal(os.Stdin)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func fail(err error) {
	if errors.Is(err, store.ErrNotFound) {
		err = fmt.Errorf("%w (no such session)", err)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// SetVersion sets the version information
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(examCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(warnCmd)
	rootCmd.AddCommand(endCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(questionCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(helpCmd)
	rootCmd.AddCommand(versionCmd)
}
