package profile

import (
	"context"

	"relaymesh/internal/domain"
	"relaymesh/internal/event"
)

// Publish signs draft with the profile's key and broadcasts it. A zero Kind
// becomes KindTextNote and a zero CreatedAt becomes now; ID, PubKey and Sig
// are always overwritten. It returns the event as published.
//
// The call succeeds once Config.Publish.MinAcks relays acknowledge. It fails
// with ErrNoAvailableRelay when no relay could take the event, and with
// ErrQuorumNotReached when some but not enough relays did.
func (p *Profile) Publish(ctx context.Context, draft Event) (Event, Receipt, error) {
	if p.isClosed() {
		return Event{}, Receipt{}, domain.ErrClosed
	}
	ev := draft
	if ev.Kind == 0 {
		ev.Kind = KindTextNote
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = p.clock.Now().Unix()
	}

	p.keyMu.RLock()
	err := event.Sign(&ev, p.key)
	p.keyMu.RUnlock()
	if err != nil {
		return Event{}, Receipt{}, err
	}
	r, err := p.broadcast(ctx, ev)
	return ev, r, err
}

// SendEncryptedMessage encrypts plaintext for recipient and broadcasts it
// like Publish. An invalid recipient key fails with ErrInvalidConfiguration
// before anything is sent.
func (p *Profile) SendEncryptedMessage(ctx context.Context, recipient PublicKey, plaintext []byte) (Receipt, error) {
	if p.isClosed() {
		return Receipt{}, domain.ErrClosed
	}
	ev, err := p.messageService().Seal(recipient, plaintext, p.clock.Now())
	if err != nil {
		return Receipt{}, err
	}
	return p.broadcast(ctx, ev)
}

func (p *Profile) broadcast(ctx context.Context, ev domain.Event) (Receipt, error) {
	res, err := p.pool.Broadcast(ctx, domain.PublishFrame(ev), p.cfg.Publish)
	return receipt(ev.ID, res), err
}
