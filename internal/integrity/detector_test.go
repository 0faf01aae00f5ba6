package integrity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	signals []Signal
	err     error
}

func (r *recordingSink) RegisterViolation(_ context.Context, s Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.signals = append(r.signals, s)
	return nil
}

func (r *recordingSink) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Kind
	for _, s := range r.signals {
		out = append(out, s.Kind())
	}
	return out
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestDetector_EmitsOnTransitionsOnly(t *testing.T) {
	sink := &recordingSink{}
	var notices []string
	d := NewDetector(Config{
		Sink:   sink,
		Notify: func(s Signal) { notices = append(notices, s.Notice()) },
		Now:    func() time.Time { return t0 },
	})
	ctx := context.Background()

	require.NoError(t, d.VisibilityChanged(ctx, true))
	require.NoError(t, d.VisibilityChanged(ctx, true))
	require.NoError(t, d.VisibilityChanged(ctx, false))
	require.NoError(t, d.VisibilityChanged(ctx, false))
	require.NoError(t, d.VisibilityChanged(ctx, true))

	require.NoError(t, d.FocusChanged(ctx, false))
	require.NoError(t, d.FocusChanged(ctx, false))
	require.NoError(t, d.FocusChanged(ctx, true))

	assert.Equal(t, []Kind{KindContextHidden, KindContextHidden, KindFocusLost}, sink.kinds())
	assert.Len(t, notices, 3)
	assert.Equal(t, t0, sink.signals[0].At())
}

func TestDetector_Disable(t *testing.T) {
	sink := &recordingSink{}
	d := NewDetector(Config{Sink: sink})
	d.Disable()
	assert.True(t, d.Disabled())

	require.NoError(t, d.VisibilityChanged(context.Background(), true))
	require.NoError(t, d.FocusChanged(context.Background(), false))
	assert.Empty(t, sink.kinds())
}

func TestDetector_SinkErrorSkipsNotice(t *testing.T) {
	boom := errors.New("store down")
	sink := &recordingSink{err: boom}
	notified := false
	d := NewDetector(Config{Sink: sink, Notify: func(Signal) { notified = true }})

	err := d.VisibilityChanged(context.Background(), true)
	require.ErrorIs(t, err, boom)
	assert.False(t, notified)
}

func TestDetector_SinkMayDisableReentrantly(t *testing.T) {
	var d *Detector
	sink := sinkFunc(func(context.Context, Signal) error {
		d.Disable()
		return nil
	})
	d = NewDetector(Config{Sink: sink})

	require.NoError(t, d.VisibilityChanged(context.Background(), true))
	assert.True(t, d.Disabled())
}

type sinkFunc func(context.Context, Signal) error

func (f sinkFunc) RegisterViolation(ctx context.Context, s Signal) error { return f(ctx, s) }

func TestSignals(t *testing.T) {
	var signals = []Signal{
		ContextHidden{Time: t0},
		FocusLost{Time: t0},
		ManualWarning{Time: t0, Note: "eyes on screen"},
		ManualWarning{Time: t0},
	}
	for _, s := range signals {
		assert.NotEmpty(t, s.Notice())
		assert.Equal(t, t0, s.At())
	}
	assert.Contains(t, signals[2].Notice(), "eyes on screen")
	assert.Equal(t, KindManualWarning, signals[3].Kind())
}
