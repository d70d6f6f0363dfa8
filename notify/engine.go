package notify

import (
	"context"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/lira-edu/lira-backend/storage"
	"github.com/lira-edu/lira-backend/webpush"
)

// WebPusher sends one encrypted push message to one browser subscription.
// *webpush.Client implements it.
type WebPusher interface {
	Send(ctx context.Context, sub *webpush.Subscription, payload []byte, opts *webpush.Options) error
}

// MobilePusher sends one batched notification to a set of mobile player IDs.
// *onesignal.Client implements it.
type MobilePusher interface {
	SendBatch(ctx context.Context, playerIDs []string, title, body string, data map[string]any) error
}

// defaultAttemptTimeout bounds each outbound delivery call so one slow
// endpoint cannot stall the whole operation.
const defaultAttemptTimeout = 30 * time.Second

// Engine dispatches one delivery attempt per subscription through the
// channel-appropriate transport and prunes subscriptions the web transport
// reports as permanently gone.
type Engine struct {
	web     WebPusher
	mobile  MobilePusher
	store   storage.Storage
	timeout time.Duration
}

// NewEngine creates a delivery engine.
func NewEngine(web WebPusher, mobile MobilePusher, store storage.Storage) *Engine {
	return &Engine{
		web:     web,
		mobile:  mobile,
		store:   store,
		timeout: defaultAttemptTimeout,
	}
}

// WithAttemptTimeout sets the per-attempt delivery timeout.
func (e *Engine) WithAttemptTimeout(d time.Duration) *Engine {
	e.timeout = d
	return e
}

// Deliver attempts one delivery per subscription and returns one result per
// subscription, in no significant order.
//
// Web subscriptions are attempted independently and concurrently; a failure
// on one never aborts the others, and a permanent-gone response additionally
// deletes that subscription from the registry. All mobile subscriptions are
// pooled into a single provider batch call with one shared outcome: the
// provider's synchronous response carries no per-recipient status, so there
// is no partial success within a batch.
func (e *Engine) Deliver(ctx context.Context, subs []*storage.Record, payload *Payload) []Result {
	if len(subs) == 0 {
		return []Result{}
	}

	body, err := payload.Marshal()
	if err != nil {
		// The payload was validated upstream; treat a marshal failure as
		// failing every attempt rather than panicking mid-operation.
		results := make([]Result, len(subs))
		for i, sub := range subs {
			results[i] = newResult(sub)
			results[i].Error = err.Error()
		}
		return results
	}

	results := make([]Result, len(subs))
	var mobileIdx []int

	var wg sync.WaitGroup
	for i, sub := range subs {
		results[i] = newResult(sub)

		switch sub.Channel {
		case storage.ChannelWeb:
			wg.Add(1)
			go func(i int, sub *storage.Record) {
				defer wg.Done()
				e.deliverWeb(ctx, sub, body, &results[i])
			}(i, sub)
		case storage.ChannelMobile:
			mobileIdx = append(mobileIdx, i)
		}
	}

	e.deliverMobileBatch(ctx, subs, mobileIdx, payload, results)
	wg.Wait()

	return results
}

// deliverWeb makes one isolated signed push attempt. Permanent-gone
// responses trigger registry cleanup; transient failures leave the
// subscription in place for the next send.
func (e *Engine) deliverWeb(ctx context.Context, sub *storage.Record, body []byte, result *Result) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err := e.web.Send(attemptCtx, sub.Web, body, &webpush.Options{
		TTL:     3600,
		Urgency: "normal",
	})
	if err == nil {
		result.Success = true
		return
	}

	result.Error = err.Error()
	if webpush.IsGone(err) {
		if delErr := e.store.Delete(ctx, sub.ID); delErr != nil {
			clog.WarnContextf(ctx, "failed to prune dead subscription %s: %v", sub.ID, delErr)
		} else {
			clog.InfoContextf(ctx, "pruned dead subscription %s for user %s", sub.ID, sub.UserID)
		}
	}
}

// deliverMobileBatch issues the single provider call for all mobile
// subscriptions in the input and applies its one outcome to each of them.
func (e *Engine) deliverMobileBatch(ctx context.Context, subs []*storage.Record, mobileIdx []int, payload *Payload, results []Result) {
	if len(mobileIdx) == 0 {
		return
	}

	playerIDs := make([]string, len(mobileIdx))
	for n, i := range mobileIdx {
		playerIDs[n] = subs[i].Mobile.PlayerID
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err := e.mobile.SendBatch(attemptCtx, playerIDs, payload.Title, payload.Body, payload.Data)
	for _, i := range mobileIdx {
		if err != nil {
			results[i].Error = err.Error()
		} else {
			results[i].Success = true
		}
	}
	if err != nil {
		clog.WarnContextf(ctx, "mobile batch of %d failed: %v", len(playerIDs), err)
	}
}

func newResult(sub *storage.Record) Result {
	r := Result{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Channel:        sub.Channel,
	}
	if sub.Web != nil {
		r.Endpoint = sub.Web.Endpoint
	}
	if sub.Mobile != nil {
		r.PlayerID = sub.Mobile.PlayerID
	}
	return r
}
