package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	written  []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("leader not available")
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs      chan kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type buildDone struct {
	BuildID string `json:"buildId"`
}

func TestPublishRetriesTransientErrors(t *testing.T) {
	w := &fakeWriter{failures: 2}
	p := NewProducerWithWriter(w, "index.complete")
	p.retry.InitialDelay = 1

	require.NoError(t, p.Publish(context.Background(), Event{Key: "b1", Value: buildDone{BuildID: "b1"}}))
	require.Len(t, w.written, 1)
	assert.Equal(t, "b1", string(w.written[0].Key))
	assert.JSONEq(t, `{"buildId":"b1"}`, string(w.written[0].Value))
}

func TestConsumerCommitsOnlyHandledMessages(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message, 2)}
	r.msgs <- kafka.Message{Offset: 1, Value: []byte(`{"buildId":"ok"}`)}
	r.msgs <- kafka.Message{Offset: 2, Value: []byte(`not json`)}

	ctx, cancel := context.WithCancel(context.Background())
	var seen []string
	c := NewConsumerWithReader(r, "index.complete", func(_ context.Context, _ []byte, value []byte) error {
		defer func() {
			if len(r.msgs) == 0 {
				cancel()
			}
		}()
		ev, err := DecodeJSON[buildDone](value)
		if err != nil {
			return err
		}
		seen = append(seen, ev.BuildID)
		return nil
	})

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, []string{"ok"}, seen)
	assert.Equal(t, []int64{1}, r.committed)
	assert.True(t, r.closed)
}

type brokenReader struct {
	fakeReader
	calls  int
	cancel context.CancelFunc
}

func (r *brokenReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.calls++
	if r.calls == 3 {
		r.cancel()
	}
	return kafka.Message{}, errors.New("broker unreachable")
}

func TestConsumerBacksOffOnFetchErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &brokenReader{cancel: cancel}
	c := NewConsumerWithReader(r, "search.events", func(context.Context, []byte, []byte) error {
		t.Fatal("handler called without a message")
		return nil
	})
	c.fetchBackoff = time.Millisecond

	start := time.Now()
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, 3, r.calls)
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)
	assert.True(t, r.closed)
}
