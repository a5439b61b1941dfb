package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darrylbowler72/agenticframework-sub001/internal/logging"
)

func newTestRouter(maxAttempts int) *Router {
	return NewRouter(Options{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Logger:          logging.Discard(),
	})
}

type payload struct {
	N int `json:"n"`
}

func TestPublishFanOut(t *testing.T) {
	r := newTestRouter(3)

	var mu sync.Mutex
	got := map[string][]int{}
	record := func(name string) Handler {
		return func(ctx context.Context, ev Event) error {
			var p payload
			if err := ev.Decode(&p); err != nil {
				return err
			}
			mu.Lock()
			got[name] = append(got[name], p.N)
			mu.Unlock()
			return nil
		}
	}
	require.NoError(t, r.Subscribe("task.completed", "a", record("a")))
	require.NoError(t, r.Subscribe("task.completed", "b", record("b")))
	require.NoError(t, r.Subscribe("other", "c", record("c")))

	for i := 0; i < 50; i++ {
		require.NoError(t, r.Publish(context.Background(), "task.completed", payload{N: i}))
	}
	require.NoError(t, r.Close(context.Background()))

	want := make([]int, 50)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got["a"], "per-subscriber order is publish order")
	assert.Equal(t, want, got["b"])
	assert.Empty(t, got["c"])
	assert.Empty(t, r.DeadLetters())
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	r := newTestRouter(1)
	release := make(chan struct{})
	require.NoError(t, r.Subscribe("t", "slow", func(ctx context.Context, ev Event) error {
		<-release
		return nil
	}))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = r.Publish(context.Background(), "t", payload{N: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(release)
	require.NoError(t, r.Close(context.Background()))
}

func TestRedeliveryThenSuccess(t *testing.T) {
	r := newTestRouter(5)

	var calls atomic.Int32
	require.NoError(t, r.Subscribe("t", "flaky", func(ctx context.Context, ev Event) error {
		if calls.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}))

	require.NoError(t, r.Publish(context.Background(), "t", payload{N: 1}))
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, r.DeadLetters())
}

func TestDeadLetterAfterMaxAttempts(t *testing.T) {
	r := newTestRouter(3)

	var calls atomic.Int32
	require.NoError(t, r.Subscribe("t", "broken", func(ctx context.Context, ev Event) error {
		calls.Add(1)
		return errors.New("boom")
	}))
	var okCalls atomic.Int32
	require.NoError(t, r.Subscribe("t", "healthy", func(ctx context.Context, ev Event) error {
		okCalls.Add(1)
		return nil
	}))

	require.NoError(t, r.Publish(context.Background(), "t", payload{N: 7}))
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(1), okCalls.Load())

	dls := r.DeadLetters()
	require.Len(t, dls, 1)
	assert.Equal(t, "broken", dls[0].Subscriber)
	assert.Equal(t, 3, dls[0].Attempts)
	assert.Equal(t, "boom", dls[0].LastError)
	assert.Equal(t, "t", dls[0].Event.Topic)
	assert.JSONEq(t, `{"n":7}`, string(dls[0].Event.Payload))
}

func TestSubscribeValidation(t *testing.T) {
	r := newTestRouter(1)
	noop := func(ctx context.Context, ev Event) error { return nil }

	require.NoError(t, r.Subscribe("t", "x", noop))
	assert.Error(t, r.Subscribe("t", "x", noop))
	require.NoError(t, r.Close(context.Background()))

	assert.ErrorIs(t, r.Subscribe("t", "y", noop), ErrClosed)
	assert.ErrorIs(t, r.Publish(context.Background(), "t", payload{}), ErrClosed)
}

func TestPublishRejectsInvalidRawPayload(t *testing.T) {
	r := newTestRouter(1)
	defer r.Close(context.Background())

	assert.Error(t, r.Publish(context.Background(), "t", []byte("{not json")))
	assert.NoError(t, r.Publish(context.Background(), "t", json.RawMessage(`{"ok":true}`)))
}

func TestHTTPSubscriber(t *testing.T) {
	var received atomic.Int32
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "workflow.completed", r.Header.Get("X-Event-Topic"))
		received.Add(1)
		code := int(status.Load())
		status.Store(http.StatusAccepted)
		w.WriteHeader(code)
	}))
	defer srv.Close()

	r := newTestRouter(3)
	sub := NewHTTPSubscriber(srv.URL, srv.Client())
	require.NoError(t, r.Subscribe("workflow.completed", "remote", sub.Handle))

	require.NoError(t, r.Publish(context.Background(), "workflow.completed", map[string]string{"workflow_id": "wf-1"}))
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, int32(2), received.Load(), "first 503 is redelivered")
	assert.Empty(t, r.DeadLetters())
}
