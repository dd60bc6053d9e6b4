package nats

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/TenantForge/internal/logger"
	"github.com/Strob0t/TenantForge/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := ConnectStream(context.Background(), url, "TENANTFORGE_TEST")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

// uniqueAction returns an audit action unique to the running test, so
// parallel tests never see each other's messages.
func uniqueAction(t *testing.T) string {
	t.Helper()
	return "test." + strings.ToLower(strings.ReplaceAll(t.Name(), "/", "_"))
}

func auditEvent(t *testing.T, action string) []byte {
	t.Helper()
	data, err := json.Marshal(messagequeue.AuditEventPayload{
		CorrelationID: "idem-1",
		ActorID:       "admin-1",
		Action:        action,
		Outcome:       "initiated",
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestQueue_PublishSubscribe(t *testing.T) {
	q := testConnect(t)
	action := uniqueAction(t)
	subject := messagequeue.AuditSubject(action)

	var (
		mu       sync.Mutex
		received *messagequeue.AuditEventPayload
		done     = make(chan struct{})
		once     sync.Once
	)

	stop, err := q.Subscribe(context.Background(), subject, func(_ context.Context, _ string, d []byte) error {
		var got messagequeue.AuditEventPayload
		if err := json.Unmarshal(d, &got); err != nil {
			return err
		}
		mu.Lock()
		received = &got
		mu.Unlock()
		once.Do(func() { close(done) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := q.Publish(context.Background(), subject, auditEvent(t, action)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()

	if received == nil {
		t.Fatal("handler was not called")
	}
	if received.Action != action || received.CorrelationID != "idem-1" {
		t.Errorf("unexpected event %+v", received)
	}
}

func TestQueue_ContextPropagation(t *testing.T) {
	q := testConnect(t)
	action := uniqueAction(t)
	subject := messagequeue.AuditSubject(action)

	var (
		mu        sync.Mutex
		gotReqID  string
		gotCorrID string
		done      = make(chan struct{})
		once      sync.Once
	)

	stop, err := q.Subscribe(context.Background(), subject, func(ctx context.Context, _ string, _ []byte) error {
		mu.Lock()
		gotReqID = logger.RequestID(ctx)
		gotCorrID = logger.CorrelationID(ctx)
		mu.Unlock()
		once.Do(func() { close(done) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	ctx := logger.WithCorrelationID(logger.WithRequestID(context.Background(), "req-abc-123"), "idem-1")
	if err := q.Publish(ctx, subject, auditEvent(t, action)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()

	if gotReqID != "req-abc-123" {
		t.Errorf("request ID = %q, want req-abc-123", gotReqID)
	}
	if gotCorrID != "idem-1" {
		t.Errorf("correlation ID = %q, want idem-1", gotCorrID)
	}
}

// dlqWatcher consumes {subject}.dlq with a raw consumer so DLQ messages are
// not re-validated.
func dlqWatcher(t *testing.T, q *Queue, subject string) <-chan []byte {
	t.Helper()
	ctx := context.Background()
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		FilterSubject: subject + dlqSuffix,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("create DLQ consumer: %v", err)
	}
	out := make(chan []byte, 1)
	var once sync.Once
	sub, err := consumer.Consume(func(msg jetstream.Msg) {
		once.Do(func() { out <- msg.Data() })
		_ = msg.Ack()
	})
	if err != nil {
		t.Fatalf("consume DLQ: %v", err)
	}
	t.Cleanup(sub.Stop)
	return out
}

func TestQueue_DLQ_InvalidSchema(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()
	subject := messagequeue.AuditSubject(uniqueAction(t))
	dlq := dlqWatcher(t, q, subject)

	stop, err := q.Subscribe(ctx, subject, func(_ context.Context, _ string, _ []byte) error {
		t.Error("handler must not see invalid messages")
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := q.Publish(ctx, subject, []byte("not-json")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case data := <-dlq:
		if string(data) != "not-json" {
			t.Errorf("DLQ data = %q, want not-json", data)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for DLQ message")
	}
}

func TestQueue_DLQ_RetryExhaustion(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()
	action := uniqueAction(t)
	subject := messagequeue.AuditSubject(action)
	dlq := dlqWatcher(t, q, subject)

	stop, err := q.Subscribe(ctx, subject, func(_ context.Context, _ string, _ []byte) error {
		return errAlwaysFail
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	// An already-exhausted message goes to the DLQ on its first failure.
	data := auditEvent(t, action)
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	msg.Header.Set(headerRetryCount, "3")
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		t.Fatalf("PublishMsg: %v", err)
	}

	select {
	case got := <-dlq:
		if string(got) != string(data) {
			t.Errorf("DLQ data = %q, want %q", got, data)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for DLQ message after retry exhaustion")
	}
}

func TestQueue_KeyValue(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()

	kv, err := q.KeyValue(ctx, "TENANTFORGE_TEST_KV", 30*time.Second)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}

	if _, err := kv.Put(ctx, "roster", []byte("admin-1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entry, err := kv.Get(ctx, "roster")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(entry.Value()) != "admin-1" {
		t.Errorf("value = %q, want admin-1", entry.Value())
	}
	if err := kv.Delete(ctx, "roster"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kv.Get(ctx, "roster"); err == nil {
		t.Error("expected error after delete, got nil")
	}
}

func TestQueue_IsConnected(t *testing.T) {
	q := testConnect(t)

	if !q.IsConnected() {
		t.Error("IsConnected() = false after Connect, want true")
	}
}

// errAlwaysFail is a sentinel error used by handlers that should always fail.
var errAlwaysFail = errSentinel("handler always fails")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
