package progress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestReporter(t *testing.T) (*LogReporter, *bytes.Buffer, *fakeClock) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := NewLogReporter(logger, "MOVIE.STR[0]")
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r.now = clock.now
	return r, &buf, clock
}

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
	}{
		{StateIdle, false},
		{StateProcessing, false},
		{StateCompleted, true},
		{StateError, true},
		{StateCancelled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
		})
	}
}

func TestLogReporter_OperationID(t *testing.T) {
	r, buf, _ := newTestReporter(t)
	_, err := ulid.Parse(r.OperationID())
	require.NoError(t, err)

	r.Start(10)
	assert.Contains(t, buf.String(), "operation_id="+r.OperationID())

	other := NewLogReporter(nil, "x")
	assert.NotEqual(t, r.OperationID(), other.OperationID())
}

func TestLogReporter_ThrottlesUpdates(t *testing.T) {
	r, buf, clock := newTestReporter(t)
	r.Start(100)

	for i := 1; i <= 10; i++ {
		clock.advance(500 * time.Millisecond)
		r.Update(i*10, fmt.Sprintf("sector %d", i))
	}

	// 5 seconds in half-second steps with a 2 second throttle
	assert.Equal(t, 2, strings.Count(buf.String(), "operation progress"))

	snap := r.Snapshot()
	assert.Equal(t, 100, snap.Done)
	assert.Equal(t, "sector 10", snap.Message)
	assert.InDelta(t, 1.0, snap.Progress(), 1e-9)
}

func TestLogReporter_End(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		state State
		log   string
	}{
		{"success", nil, StateCompleted, "operation completed"},
		{"failure", errors.New("disk full"), StateError, "operation failed"},
		{"cancelled", fmt.Errorf("save: %w", context.Canceled), StateCancelled, "operation cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, buf, clock := newTestReporter(t)
			r.Start(4)
			r.Update(2, "")
			clock.advance(time.Second)
			r.End(tt.err)

			snap := r.Snapshot()
			assert.Equal(t, tt.state, snap.State)
			require.NotNil(t, snap.CompletedAt)
			assert.Contains(t, buf.String(), tt.log)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), snap.Error)
				assert.Equal(t, 2, snap.Done)
			} else {
				assert.Equal(t, 4, snap.Done)
			}

			// terminal state ignores further calls
			r.Update(3, "late")
			r.End(nil)
			assert.Equal(t, tt.state, r.Snapshot().State)
		})
	}
}

func TestSnapshot_Progress(t *testing.T) {
	assert.Zero(t, Snapshot{}.Progress())
	assert.InDelta(t, 0.25, Snapshot{Done: 1, Total: 4}.Progress(), 1e-9)
	assert.InDelta(t, 1.0, Snapshot{Done: 9, Total: 4}.Progress(), 1e-9)
}

func TestNilReporter(t *testing.T) {
	var r Reporter = NilReporter{}
	r.Start(1)
	r.Update(1, "x")
	r.End(errors.New("ignored"))
}
