package notify

import (
	"context"
	"log/slog"
	"time"

	"agenda/api/internal/agenda"
	"agenda/api/internal/metrics"
	"agenda/api/internal/util"
)

// Sink delivers a notification somewhere. Sinks are best effort: the
// dispatcher logs their failures and moves on.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Deduper claims a delivery key once. Claim returns false when the key was
// already claimed; Release gives a claim back after a delivery that reached no
// sink.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Dispatcher struct {
	targeting *Targeting
	sinks     []Sink
	deduper   Deduper
	dedupeTTL time.Duration
	baseURL   string
	logger    *slog.Logger
	clock     func() time.Time
}

func NewDispatcher(targeting *Targeting, baseURL string, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		targeting: targeting,
		sinks:     sinks,
		dedupeTTL: 30 * 24 * time.Hour,
		baseURL:   baseURL,
		logger:    slog.Default().With("component", "notify"),
		clock:     time.Now,
	}
}

func (d *Dispatcher) WithDeduper(deduper Deduper, ttl time.Duration) *Dispatcher {
	d.deduper = deduper
	if ttl > 0 {
		d.dedupeTTL = ttl
	}
	return d
}

func (d *Dispatcher) WithLogger(logger *slog.Logger) *Dispatcher {
	d.logger = logger
	return d
}

func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// Dispatch resolves and delivers every intent. It never fails: errors are
// logged and the notifications that could be built are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, p agenda.Proposal, intents []Intent) []Notification {
	sent := make([]Notification, 0, len(intents))
	for _, intent := range intents {
		recipients, err := d.targeting.ComputeRecipients(ctx, intent, p)
		if err != nil {
			d.logger.Error("compute recipients failed", "proposal_id", p.ID, "event", intent.Event, "error", err)
			metrics.RecordNotification(string(intent.Event), "targeting", "error")
			continue
		}
		recipients, claims := d.unclaimed(ctx, intent, recipients)
		if len(recipients) == 0 {
			d.logger.Debug("notification already delivered", "proposal_id", p.ID, "key", intent.Key)
			continue
		}

		n := Notification{
			ID:         util.NewID("ntf"),
			Key:        intent.Key,
			Event:      intent.Event,
			ProposalID: p.ID,
			Message:    Compose(intent, p, d.baseURL),
			Recipients: recipients,
			CreatedAt:  d.clock(),
		}
		delivered := false
		for _, sink := range d.sinks {
			if err := sink.Deliver(ctx, n); err != nil {
				d.logger.Warn("notification sink failed", "sink", sink.Name(), "proposal_id", p.ID, "event", n.Event, "error", err)
				metrics.RecordNotification(string(n.Event), sink.Name(), "error")
				continue
			}
			delivered = true
			metrics.RecordNotification(string(n.Event), sink.Name(), "delivered")
		}
		if !delivered {
			d.release(ctx, claims)
			continue
		}
		sent = append(sent, n)
	}
	return sent
}

// unclaimed drops recipients that already received this intent and returns
// the keys claimed for the rest. When the deduper is unavailable everyone is
// kept and the claims made so far are given back.
func (d *Dispatcher) unclaimed(ctx context.Context, intent Intent, recipients []Recipient) ([]Recipient, []string) {
	if d.deduper == nil || intent.Key == "" {
		return recipients, nil
	}
	kept := recipients[:0:0]
	var claims []string
	for _, recipient := range recipients {
		key := intent.Key + ":" + recipient.UserID
		claimed, err := d.deduper.Claim(ctx, key, d.dedupeTTL)
		if err != nil {
			d.logger.Warn("notification dedupe unavailable", "key", intent.Key, "error", err)
			d.release(ctx, claims)
			return recipients, nil
		}
		if claimed {
			kept = append(kept, recipient)
			claims = append(claims, key)
		}
	}
	return kept, claims
}

// release frees claims for a notification no sink accepted so a later
// dispatch can retry it.
func (d *Dispatcher) release(ctx context.Context, claims []string) {
	for _, key := range claims {
		if err := d.deduper.Release(ctx, key); err != nil {
			d.logger.Warn("release delivery claim failed", "key", key, "error", err)
		}
	}
}
