package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/lira-edu/lira-backend/storage"
	"github.com/lira-edu/lira-backend/webpush"
)

const (
	testP256dh = "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM"
	testAuth   = "tBHItJI5svbpez7KI4CCXg"
)

// fakeWeb is a WebPusher that responds per endpoint and counts attempts.
type fakeWeb struct {
	mu        sync.Mutex
	calls     int
	responses map[string]error // keyed by endpoint; missing means success
}

func (f *fakeWeb) Send(_ context.Context, sub *webpush.Subscription, _ []byte, _ *webpush.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.responses[sub.Endpoint]
}

func (f *fakeWeb) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeMobile is a MobilePusher that records batches and returns a fixed error.
type fakeMobile struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (f *fakeMobile) SendBatch(_ context.Context, playerIDs []string, _, _ string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]string, len(playerIDs))
	copy(batch, playerIDs)
	f.batches = append(f.batches, batch)
	return f.err
}

func seedWeb(t *testing.T, s storage.Storage, userID, endpoint string) *storage.Record {
	t.Helper()
	record, err := s.UpsertWeb(context.Background(), userID, &webpush.Subscription{
		Endpoint: endpoint,
		Keys:     webpush.Keys{P256dh: testP256dh, Auth: testAuth},
	})
	if err != nil {
		t.Fatalf("UpsertWeb() error = %v", err)
	}
	return record
}

func seedMobile(t *testing.T, s storage.Storage, userID, playerID string) *storage.Record {
	t.Helper()
	record, err := s.UpsertMobile(context.Background(), userID, playerID, storage.PlatformAndroid)
	if err != nil {
		t.Fatalf("UpsertMobile() error = %v", err)
	}
	return record
}

func testPayload() *Payload {
	p := &Payload{Title: "Reading time", Body: "Mila finished chapter 3"}
	if err := p.Validate(); err != nil {
		panic(err)
	}
	return p
}

func TestDeliver_EmptyInput(t *testing.T) {
	web := &fakeWeb{}
	mobile := &fakeMobile{}
	engine := NewEngine(web, mobile, storage.NewMemory())

	results := engine.Deliver(context.Background(), nil, testPayload())
	if results == nil {
		t.Fatal("Deliver() returned nil, want empty slice")
	}
	if len(results) != 0 {
		t.Fatalf("Deliver() returned %d results, want 0", len(results))
	}
	if web.callCount() != 0 || len(mobile.batches) != 0 {
		t.Error("Deliver() issued transport calls for empty input")
	}
}

func TestDeliver_PrunesGoneSubscription(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	seedWeb(t, store, "user-1", "https://push.example.com/a")
	gone := seedWeb(t, store, "user-1", "https://push.example.com/b")
	seedWeb(t, store, "user-1", "https://push.example.com/c")

	web := &fakeWeb{responses: map[string]error{
		"https://push.example.com/b": &webpush.StatusError{StatusCode: http.StatusGone, Body: "expired"},
	}}
	engine := NewEngine(web, &fakeMobile{}, store)

	results := engine.Deliver(ctx, mustGetByUser(t, store, "user-1"), testPayload())
	if len(results) != 3 {
		t.Fatalf("Deliver() returned %d results, want 3", len(results))
	}

	var ok, failed int
	for _, r := range results {
		if r.Success {
			ok++
		} else {
			failed++
			if r.SubscriptionID != gone.ID {
				t.Errorf("unexpected failed subscription %s", r.SubscriptionID)
			}
			if r.Error == "" {
				t.Error("failed result has no error detail")
			}
		}
	}
	if ok != 2 || failed != 1 {
		t.Errorf("success/failure = %d/%d, want 2/1", ok, failed)
	}

	// The gone subscription was pruned; the other two remain.
	remaining := mustGetByUser(t, store, "user-1")
	if len(remaining) != 2 {
		t.Fatalf("%d subscriptions remain, want 2", len(remaining))
	}
	for _, r := range remaining {
		if r.ID == gone.ID {
			t.Error("gone subscription still present after Deliver()")
		}
	}
}

func TestDeliver_TransientFailureKeepsSubscription(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	seedWeb(t, store, "user-1", "https://push.example.com/a")
	flaky := seedWeb(t, store, "user-1", "https://push.example.com/b")
	seedWeb(t, store, "user-1", "https://push.example.com/c")

	web := &fakeWeb{responses: map[string]error{
		"https://push.example.com/b": &webpush.StatusError{StatusCode: http.StatusServiceUnavailable, Body: "retry later"},
	}}
	engine := NewEngine(web, &fakeMobile{}, store)

	results := engine.Deliver(ctx, mustGetByUser(t, store, "user-1"), testPayload())

	var failed int
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}

	// Transient failure: the subscription survives for the next send.
	remaining := mustGetByUser(t, store, "user-1")
	if len(remaining) != 3 {
		t.Fatalf("%d subscriptions remain, want 3", len(remaining))
	}
	found := false
	for _, r := range remaining {
		if r.ID == flaky.ID {
			found = true
		}
	}
	if !found {
		t.Error("transiently failing subscription was pruned")
	}
}

func TestDeliver_NetworkErrorKeepsSubscription(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	seedWeb(t, store, "user-1", "https://push.example.com/a")

	web := &fakeWeb{responses: map[string]error{
		"https://push.example.com/a": errors.New("dial tcp: connection refused"),
	}}
	engine := NewEngine(web, &fakeMobile{}, store)

	engine.Deliver(ctx, mustGetByUser(t, store, "user-1"), testPayload())

	if got := len(mustGetByUser(t, store, "user-1")); got != 1 {
		t.Errorf("%d subscriptions remain, want 1", got)
	}
}

// hangingWeb is a WebPusher that never responds on its own; Send returns
// only once the attempt context expires.
type hangingWeb struct{}

func (hangingWeb) Send(ctx context.Context, _ *webpush.Subscription, _ []byte, _ *webpush.Options) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDeliver_SlowWebAttemptIsBounded(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	seedWeb(t, store, "user-1", "https://push.example.com/stuck")

	engine := NewEngine(hangingWeb{}, &fakeMobile{}, store).
		WithAttemptTimeout(100 * time.Millisecond)

	start := time.Now()
	results := engine.Deliver(ctx, mustGetByUser(t, store, "user-1"), testPayload())
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("Deliver() took %v, a hung push service must not stall the operation", elapsed)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Success {
		t.Error("timed-out attempt reported Success = true")
	}
	if results[0].Error == "" {
		t.Error("timed-out attempt carries no error")
	}

	// A timeout is transient; the subscription must survive for the next send.
	if got := len(mustGetByUser(t, store, "user-1")); got != 1 {
		t.Errorf("%d subscriptions remain, want 1", got)
	}
}

func TestDeliver_MobileBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()

	players := []string{"p1", "p2", "p3", "p4", "p5"}
	seed := func(t *testing.T, store storage.Storage) []*storage.Record {
		for _, p := range players {
			seedMobile(t, store, "user-1", p)
		}
		return mustGetByUser(t, store, "user-1")
	}

	t.Run("provider failure marks every result failed", func(t *testing.T) {
		store := storage.NewMemory()
		subs := seed(t, store)
		mobile := &fakeMobile{err: errors.New("onesignal returned 500: upstream error")}
		engine := NewEngine(&fakeWeb{}, mobile, store)

		results := engine.Deliver(ctx, subs, testPayload())
		if len(results) != 5 {
			t.Fatalf("got %d results, want 5", len(results))
		}
		for _, r := range results {
			if r.Success {
				t.Errorf("result for %s succeeded despite provider failure", r.PlayerID)
			}
			if r.Error != mobile.err.Error() {
				t.Errorf("error detail = %q, want shared %q", r.Error, mobile.err.Error())
			}
		}
		if len(mobile.batches) != 1 {
			t.Fatalf("provider called %d times, want 1", len(mobile.batches))
		}
		// Provider failure is not a gone signal: nothing is pruned.
		if got := len(mustGetByUser(t, store, "user-1")); got != 5 {
			t.Errorf("%d subscriptions remain, want 5", got)
		}
	})

	t.Run("provider success marks every result sent", func(t *testing.T) {
		store := storage.NewMemory()
		subs := seed(t, store)
		mobile := &fakeMobile{}
		engine := NewEngine(&fakeWeb{}, mobile, store)

		results := engine.Deliver(ctx, subs, testPayload())
		for _, r := range results {
			if !r.Success {
				t.Errorf("result for %s failed despite provider success", r.PlayerID)
			}
		}
		if len(mobile.batches) != 1 || len(mobile.batches[0]) != 5 {
			t.Fatalf("batches = %v, want one batch of 5", mobile.batches)
		}
	})
}

func TestDeliver_MixedChannels(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	seedWeb(t, store, "user-1", "https://push.example.com/a")
	seedMobile(t, store, "user-1", "p1")

	web := &fakeWeb{}
	mobile := &fakeMobile{}
	engine := NewEngine(web, mobile, store)

	results := engine.Deliver(ctx, mustGetByUser(t, store, "user-1"), testPayload())
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if web.callCount() != 1 {
		t.Errorf("web attempts = %d, want 1", web.callCount())
	}
	if len(mobile.batches) != 1 {
		t.Errorf("mobile batches = %d, want 1", len(mobile.batches))
	}
}

func mustGetByUser(t *testing.T, s storage.Storage, userID string) []*storage.Record {
	t.Helper()
	subs, err := s.GetByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetByUser() error = %v", err)
	}
	return subs
}
