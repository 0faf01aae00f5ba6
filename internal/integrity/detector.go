package integrity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink receives emitted signals, normally the participant agent
type Sink interface {
	RegisterViolation(ctx context.Context, s Signal) error
}

type Config struct {
	Sink Sink
	// Notify is called after the sink accepted a signal
	Notify func(Signal)
	Now    func() time.Time
	Logger *slog.Logger
}

// Detector tracks visibility and focus and emits a signal on every
// transition away from the exam. Repeated "hidden" reports while already
// hidden emit nothing.
type Detector struct {
	sink   Sink
	notify func(Signal)
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	hidden    bool
	unfocused bool
	disabled  bool
}

func NewDetector(cfg Config) *Detector {
	d := &Detector{
		sink:   cfg.Sink,
		notify: cfg.Notify,
		now:    cfg.Now,
		logger: cfg.Logger,
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "integrity")
	return d
}

// VisibilityChanged reports whether the exam context is hidden
func (d *Detector) VisibilityChanged(ctx context.Context, hidden bool) error {
	d.mu.Lock()
	emit := hidden && !d.hidden && !d.disabled
	d.hidden = hidden
	d.mu.Unlock()

	if !emit {
		return nil
	}
	return d.emit(ctx, ContextHidden{Time: d.now()})
}

// FocusChanged reports whether the exam context has input focus
func (d *Detector) FocusChanged(ctx context.Context, focused bool) error {
	d.mu.Lock()
	emit := !focused && !d.unfocused && !d.disabled
	d.unfocused = !focused
	d.mu.Unlock()

	if !emit {
		return nil
	}
	return d.emit(ctx, FocusLost{Time: d.now()})
}

// Disable stops emission for good, once the session has ended
func (d *Detector) Disable() {
	d.mu.Lock()
	d.disabled = true
	d.mu.Unlock()
}

func (d *Detector) Disabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disabled
}

func (d *Detector) emit(ctx context.Context, s Signal) error {
	d.logger.Info("integrity signal", "kind", s.Kind())
	if d.sink != nil {
		if err := d.sink.RegisterViolation(ctx, s); err != nil {
			d.logger.Warn("violation not recorded", "kind", s.Kind(), "error", err)
			return err
		}
	}
	if d.notify != nil {
		d.notify(s)
	}
	return nil
}
