package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neofinancial/chrono/internal/chrono"
	"github.com/neofinancial/chrono/internal/notify"
)

type fakeSender struct {
	calls []struct{ to, subject, body string }
	err   error
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	f.calls = append(f.calls, struct{ to, subject, body string }{to, subject, body})
	return f.err
}

func TestNotifierSendsOnTaskFailed(t *testing.T) {
	sender := &fakeSender{}
	n := notify.New(sender, "ops@example.com", nil)

	events := &chrono.Emitter{}
	unsubscribe := n.Attach(events)
	defer unsubscribe()

	events.Emit(chrono.EventTaskFailed, chrono.EventTaskFailedPayload{
		Task: &chrono.Task{ID: "t-1", Kind: "email", RetryCount: 3},
		Err:  errors.New("boom"),
	})

	require.Len(t, sender.calls, 1)
	assert.Equal(t, "ops@example.com", sender.calls[0].to)
	assert.Contains(t, sender.calls[0].subject, "t-1")
}

func TestNotifierIgnoresOtherEvents(t *testing.T) {
	sender := &fakeSender{}
	n := notify.New(sender, "ops@example.com", nil)
	events := &chrono.Emitter{}
	n.Attach(events)

	events.Emit(chrono.EventTaskCompleted, chrono.EventTaskCompletedPayload{Task: &chrono.Task{ID: "t-2"}})

	assert.Empty(t, sender.calls)
}

func TestNotifierWithoutRecipientIsNoop(t *testing.T) {
	sender := &fakeSender{}
	n := notify.New(sender, "", nil)
	events := &chrono.Emitter{}
	n.Attach(events)

	events.Emit(chrono.EventTaskFailed, chrono.EventTaskFailedPayload{Task: &chrono.Task{ID: "t-3"}, Err: errors.New("x")})

	assert.Empty(t, sender.calls)
}
