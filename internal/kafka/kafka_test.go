package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/movra/payout-manager/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeReader serves queued messages, then blocks until ctx is done
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func (r *fakeReader) Close() error { return nil }

// flakyHandler fails the first failures calls
type flakyHandler struct {
	mu       sync.Mutex
	failures int
	calls    int
	applied  []model.SourceChange
}

func (h *flakyHandler) HandleChanges(ctx context.Context, changes []model.SourceChange) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.calls <= h.failures {
		return errors.New("redis down")
	}
	h.applied = append(h.applied, changes...)
	return nil
}

func (h *flakyHandler) Applied() []model.SourceChange {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.SourceChange(nil), h.applied...)
}

func sourceMessage(t *testing.T, offset int64, change model.SourceChange) kafka.Message {
	t.Helper()
	value, err := json.Marshal(change)
	require.NoError(t, err)
	return kafka.Message{Topic: "sources", Offset: offset, Key: []byte(change.SourceID), Value: value}
}

func runConsumer(t *testing.T, c *Consumer, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(ctx) }()

	require.Eventually(t, done, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
}

func TestConsumer_RetriesUntilApplied(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		sourceMessage(t, 10, model.SourceChange{SourceID: "src-1", EventID: 1, Created: &model.SourceCreated{ID: "src-1"}}),
	}}
	handler := &flakyHandler{failures: 2}
	c := newConsumer(reader, handler, time.Millisecond, zap.NewNop())

	runConsumer(t, c, func() bool { return len(reader.Committed()) == 1 })

	assert.Equal(t, []int64{10}, reader.Committed())
	require.Len(t, handler.Applied(), 1)
	assert.Equal(t, "src-1", handler.Applied()[0].SourceID)
}

func TestConsumer_SkipsUndecodableMessage(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Topic: "sources", Offset: 3, Value: []byte("{not json")},
		sourceMessage(t, 4, model.SourceChange{SourceID: "src-2", EventID: 1, Created: &model.SourceCreated{ID: "src-2"}}),
	}}
	handler := &flakyHandler{}
	c := newConsumer(reader, handler, time.Millisecond, zap.NewNop())

	runConsumer(t, c, func() bool { return len(reader.Committed()) == 2 })

	assert.Equal(t, []int64{3, 4}, reader.Committed())
	assert.Len(t, handler.Applied(), 1)
}

func TestConsumer_SourceIDFallsBackToKey(t *testing.T) {
	value, err := json.Marshal(model.SourceChange{EventID: 5, Status: &model.SourceStatusChange{Status: model.SourceStatusAuthorized}})
	require.NoError(t, err)
	reader := &fakeReader{messages: []kafka.Message{{Offset: 1, Key: []byte("src-9"), Value: value}}}
	handler := &flakyHandler{}
	c := newConsumer(reader, handler, time.Millisecond, zap.NewNop())

	runConsumer(t, c, func() bool { return len(handler.Applied()) == 1 })

	assert.Equal(t, "src-9", handler.Applied()[0].SourceID)
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_PublishKeyedByPayout(t *testing.T) {
	writer := &fakeWriter{}
	p := &Producer{writer: writer, logger: zap.NewNop()}

	event := model.NewPayoutEvent(&model.Payout{PayoutID: "p1", SequenceID: 1, Status: model.PayoutStatusConfirmed}, nil, time.Now())
	require.NoError(t, p.Publish(context.Background(), event))

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "p1", string(msg.Key))

	var decoded model.PayoutEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, model.ChangeTypeStatusChanged, decoded.Change.Type)
	assert.Equal(t, model.PayoutStatusConfirmed, decoded.Change.Status)
	assert.Equal(t, 1, decoded.SequenceID)
}

func TestProducer_PublishError(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("no brokers")}, logger: zap.NewNop()}

	event := model.NewPayoutEvent(&model.Payout{PayoutID: "p1"}, nil, time.Now())
	require.Error(t, p.Publish(context.Background(), event))
}
