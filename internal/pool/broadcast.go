package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"relaymesh/internal/domain"
	"relaymesh/internal/relay"
)

// Policy says how widely to send and how many acknowledgements count as
// success. There is no implicit default; callers choose both numbers.
type Policy struct {
	// Fanout is the number of sessions to try; zero means every eligible one.
	Fanout int
	// MinAcks is the number of acknowledgements needed for success.
	MinAcks int
	// Timeout bounds the broadcast when ctx carries no deadline.
	Timeout time.Duration
}

// Validate rejects policies that can never succeed.
func (p Policy) Validate() error {
	if p.MinAcks < 1 {
		return fmt.Errorf("%w: MinAcks must be at least 1", domain.ErrInvalidConfiguration)
	}
	if p.Fanout < 0 {
		return fmt.Errorf("%w: Fanout is negative", domain.ErrInvalidConfiguration)
	}
	if p.Fanout > 0 && p.Fanout < p.MinAcks {
		return fmt.Errorf("%w: Fanout %d is below MinAcks %d", domain.ErrInvalidConfiguration, p.Fanout, p.MinAcks)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("%w: broadcast Timeout must be positive", domain.ErrInvalidConfiguration)
	}
	return nil
}

// BroadcastResult reports per-relay outcomes known when Broadcast returned.
// Relays still in flight are absent from Outcomes.
type BroadcastResult struct {
	Acks      int
	Required  int
	Attempted int
	Outcomes  map[string]error
}

// Acked returns the relays that acknowledged.
func (r *BroadcastResult) Acked() []string {
	var out []string
	for u, err := range r.Outcomes {
		if err == nil {
			out = append(out, u)
		}
	}
	return out
}

// QuorumError is returned when fewer than Required relays acknowledged.
// It matches domain.ErrQuorumNotReached, and domain.ErrNoAvailableRelay when
// not a single relay acknowledged.
type QuorumError struct {
	Acks     int
	Required int
	Err      error
}

func (e *QuorumError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%d of %d required acknowledgements", e.Acks, e.Required)
	}
	return fmt.Sprintf("%d of %d required acknowledgements: %v", e.Acks, e.Required, e.Err)
}

func (e *QuorumError) Unwrap() error { return e.Err }

func (e *QuorumError) Is(target error) bool {
	return target == domain.ErrQuorumNotReached ||
		(e.Acks == 0 && target == domain.ErrNoAvailableRelay)
}

type outcome struct {
	url string
	err error
}

// Broadcast delivers f to the best Policy.Fanout sessions concurrently.
//
// It fails with domain.ErrNoAvailableRelay when the pool has no eligible
// session, and with *QuorumError when fewer than MinAcks acknowledge before
// the deadline.
func (p *Pool) Broadcast(ctx context.Context, f domain.Frame, pol Policy) (*BroadcastResult, error) {
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	targets := p.Select(OpPublish, pol.Fanout)
	res := &BroadcastResult{
		Required:  pol.MinAcks,
		Attempted: len(targets),
		Outcomes:  make(map[string]error, len(targets)),
	}
	if len(targets) == 0 {
		p.metrics.Broadcast("no_relay", 0)
		return res, domain.ErrNoAvailableRelay
	}

	ctx, cancel := withDefaultTimeout(ctx, p.clock, pol.Timeout)
	results := make(chan outcome, len(targets))
	pending := len(targets)
	var wg sync.WaitGroup
	for _, s := range targets {
		wg.Add(1)
		go func(s *relay.Session) {
			defer wg.Done()
			results <- outcome{url: s.URL(), err: s.Deliver(ctx, f)}
		}(s)
	}
	go func() {
		wg.Wait()
		cancel()
	}()

	record := func(o outcome) {
		res.Outcomes[o.url] = o.err
		if o.err == nil {
			res.Acks++
		}
		pending--
	}
collect:
	for pending > 0 && res.Acks < pol.MinAcks {
		select {
		case o := <-results:
			record(o)
		case <-ctx.Done():
			for {
				select {
				case o := <-results:
					record(o)
				default:
					break collect
				}
			}
		}
	}

	if f.IsPublish() {
		p.log.Infof("published %s to %d/%d relays", f.Event.ID, res.Acks, res.Attempted)
	} else {
		p.log.Debugf("sent %s to %d/%d relays", f.Type, res.Acks, res.Attempted)
	}
	if res.Acks >= pol.MinAcks {
		p.metrics.Broadcast("ok", res.Acks)
		return res, nil
	}
	var errs error
	for u, err := range res.Outcomes {
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", u, err))
		}
	}
	if pending > 0 {
		errs = multierr.Append(errs, fmt.Errorf("%d relays did not answer: %w", pending, ctx.Err()))
	}
	p.metrics.Broadcast("quorum_failed", res.Acks)
	return res, &QuorumError{Acks: res.Acks, Required: pol.MinAcks, Err: errs}
}
