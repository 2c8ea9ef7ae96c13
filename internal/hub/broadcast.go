package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/event"
	"github.com/sngor/bayon-realtime/internal/metrics"
)

// Outcome is the per-target result of a broadcast.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeGone      Outcome = "gone"
	OutcomeTransient Outcome = "transientError"
)

// Target is a deliverable session endpoint.
type Target interface {
	Deliver(ev event.Outbound, timeout time.Duration) bool
}

// Broadcaster fans an event out to a set of connection ids. Every target is
// attempted concurrently and the call settles only after all attempts have;
// one target failing never blocks or cancels its siblings. A target whose
// session no longer exists reports gone and is deregistered from the
// durable registry before the call returns, healing stale records left by
// a crashed process.
//
// The gone self-heal assumes a single hub instance: resolve answers from
// this instance's sessions only, so deregistering on a miss is safe only
// while no other instance serves connections. Scaling out requires a
// resolver that checks the shared registry before declaring a target gone.
type Broadcaster struct {
	resolve    func(connectionID string) Target
	deregister func(ctx context.Context, connectionID string) error
	timeout    time.Duration
	logger     *zap.Logger
}

// NewBroadcaster wires a broadcaster over a session resolver and the
// registry's deregister operation.
func NewBroadcaster(
	resolve func(connectionID string) Target,
	deregister func(ctx context.Context, connectionID string) error,
	timeout time.Duration,
	logger *zap.Logger,
) *Broadcaster {
	return &Broadcaster{
		resolve:    resolve,
		deregister: deregister,
		timeout:    timeout,
		logger:     logger,
	}
}

// Broadcast attempts delivery to every target and returns one outcome per
// target, duplicates collapsed.
func (b *Broadcaster) Broadcast(ctx context.Context, targets []string, ev event.Outbound) map[string]Outcome {
	results := make(map[string]Outcome, len(targets))
	if len(targets) == 0 {
		return results
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	seen := make(map[string]bool, len(targets))
	for _, id := range targets {
		if seen[id] {
			continue
		}
		seen[id] = true

		wg.Add(1)
		go func(connectionID string) {
			defer wg.Done()

			outcome := b.attempt(ctx, connectionID, ev)
			metrics.BroadcastOutcomes.WithLabelValues(string(outcome)).Inc()

			mu.Lock()
			results[connectionID] = outcome
			mu.Unlock()
		}(id)
	}

	wg.Wait()
	return results
}

func (b *Broadcaster) attempt(ctx context.Context, connectionID string, ev event.Outbound) Outcome {
	target := b.resolve(connectionID)
	if target == nil {
		// Stale registry record: self-heal by deregistering, then report
		// gone. Not surfaced as a caller failure.
		if err := b.deregister(ctx, connectionID); err != nil {
			b.logger.Error("failed to deregister gone target",
				zap.Error(err),
				zap.String("connection_id", connectionID),
			)
		}
		return OutcomeGone
	}

	if !target.Deliver(ev, b.timeout) {
		b.logger.Warn("transient delivery error",
			zap.String("connection_id", connectionID),
			zap.String("event_type", ev.Type),
		)
		return OutcomeTransient
	}
	return OutcomeDelivered
}

// Deliver implements Target for a local client session.
func (c *Client) Deliver(ev event.Outbound, timeout time.Duration) bool {
	return c.SafeSend(ev, timeout)
}

// Broadcast fans out to connection ids using this hub's local sessions.
func (h *Hub) Broadcast(ctx context.Context, targets []string, ev event.Outbound) map[string]Outcome {
	return h.broadcaster().Broadcast(ctx, targets, ev)
}

func (h *Hub) broadcaster() *Broadcaster {
	return NewBroadcaster(
		func(connectionID string) Target {
			c := h.localClient(connectionID)
			if c == nil || c.IsClosed() {
				return nil
			}
			return c
		},
		h.registry.Deregister,
		sendTimeout,
		h.logger,
	)
}
