package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testNotice() Notice {
	return Notice{
		TraceID:       "trace-1",
		SessionBucket: "0011223344556677",
		Severity:      "HIGH",
		Outcome:       "ESCALATE",
		Rule:          "exhausted_escalate",
		LanguageMix:   "arabizi+mixed",
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifier_PostsNotice(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Notify(context.Background(), testNotice()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.Notice.TraceID != "trace-1" || got.Notice.SessionBucket != "0011223344556677" {
		t.Errorf("notice not delivered: %+v", got.Notice)
	}
	if len(got.Blocks) != 2 {
		t.Errorf("blocks = %d, want 2", len(got.Blocks))
	}
}

func TestWebhookNotifier_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Notify(context.Background(), testNotice()); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestWebhookNotifier_MissingURL(t *testing.T) {
	if err := (&WebhookNotifier{}).Notify(context.Background(), testNotice()); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestWithTimeout_BoundsCall(t *testing.T) {
	slow := NotifierFunc(func(ctx context.Context, _ Notice) error {
		<-ctx.Done()
		return ctx.Err()
	})
	start := time.Now()
	err := WithTimeout(slow, 20*time.Millisecond).Notify(context.Background(), testNotice())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not applied")
	}
}

func TestFanout_JoinsErrors(t *testing.T) {
	calls := 0
	ok := NotifierFunc(func(context.Context, Notice) error { calls++; return nil })
	bad := NotifierFunc(func(context.Context, Notice) error { calls++; return errors.New("down") })

	err := Fanout{ok, bad, ok}.Notify(context.Background(), testNotice())
	if err == nil {
		t.Fatal("expected joined error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want every channel tried", calls)
	}
	if err := (Fanout{ok}).Notify(context.Background(), testNotice()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	if err := NewLogNotifier(zap.NewNop()).Notify(context.Background(), testNotice()); err != nil {
		t.Fatal(err)
	}
}

// memOutbox is an in-memory OutboxStore.
type memOutbox struct {
	mu   sync.Mutex
	rows []OutboxRow
	err  error
}

func (m *memOutbox) Insert(_ context.Context, row OutboxRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, row)
	return nil
}

func (m *memOutbox) ClaimPending(_ context.Context, limit int, fn func(OutboxRow) string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.rows {
		if n >= limit {
			break
		}
		if m.rows[i].Status != StatusPending {
			continue
		}
		n++
		status := fn(m.rows[i])
		if status == StatusPending {
			m.rows[i].RetryCount++
			continue
		}
		if status == StatusFailed {
			m.rows[i].RetryCount++
		}
		m.rows[i].Status = status
	}
	return n, nil
}

func TestPostgresOutbox_InsertsPending(t *testing.T) {
	store := &memOutbox{}
	if err := NewPostgresOutbox(store).Notify(context.Background(), testNotice()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(store.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(store.rows))
	}
	row := store.rows[0]
	if row.Status != StatusPending || row.EventType != eventTypeEscalation {
		t.Errorf("unexpected row: %+v", row)
	}
	var n Notice
	if err := json.Unmarshal(row.Payload, &n); err != nil {
		t.Fatal(err)
	}
	if n.TraceID != "trace-1" {
		t.Errorf("payload trace = %q", n.TraceID)
	}
}

func TestPostgresOutbox_StoreError(t *testing.T) {
	store := &memOutbox{err: errors.New("connection refused")}
	if err := NewPostgresOutbox(store).Notify(context.Background(), testNotice()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRelay_DeliversAndRetries(t *testing.T) {
	store := &memOutbox{}
	outbox := NewPostgresOutbox(store)
	for i := 0; i < 2; i++ {
		if err := outbox.Notify(context.Background(), testNotice()); err != nil {
			t.Fatal(err)
		}
	}

	failing := true
	next := NotifierFunc(func(context.Context, Notice) error {
		if failing {
			return errors.New("webhook down")
		}
		return nil
	})
	relay := NewRelay(store, next, 2, zap.NewNop())

	// First pass fails: rows stay PENDING with one retry.
	if n, err := relay.RunOnce(context.Background()); err != nil || n != 2 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	for _, r := range store.rows {
		if r.Status != StatusPending || r.RetryCount != 1 {
			t.Fatalf("after failed pass: %+v", r)
		}
	}

	// Second pass succeeds.
	failing = false
	if _, err := relay.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, r := range store.rows {
		if r.Status != StatusProcessed {
			t.Errorf("status = %s, want PROCESSED", r.Status)
		}
	}
}

func TestRelay_MarksFailedAfterMaxRetries(t *testing.T) {
	store := &memOutbox{}
	_ = NewPostgresOutbox(store).Notify(context.Background(), testNotice())
	next := NotifierFunc(func(context.Context, Notice) error { return errors.New("down") })
	relay := NewRelay(store, next, 1, zap.NewNop())

	if _, err := relay.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.rows[0].Status != StatusFailed {
		t.Errorf("status = %s, want FAILED", store.rows[0].Status)
	}
}
