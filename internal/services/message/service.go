package message

import (
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"relaymesh/internal/crypto"
	"relaymesh/internal/domain"
	"relaymesh/internal/event"
	"relaymesh/internal/protocol/channel"
)

// DefaultCacheSize is the number of peers whose channels are cached.
const DefaultCacheSize = 256

// ErrNotDirectMessage is returned by Open for events that are not kind 4.
var ErrNotDirectMessage = errors.New("event is not an encrypted direct message")

// Service seals and opens direct messages for one local identity.
type Service struct {
	key      *crypto.PrivateKey
	channels *lru.Cache[domain.PublicKey, *channel.Channel]
}

// New returns a Service for key. key stays owned by the caller.
func New(key *crypto.PrivateKey, cacheSize int) (*Service, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: message service needs a key", domain.ErrInvalidConfiguration)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	c, err := lru.New[domain.PublicKey, *channel.Channel](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{key: key, channels: c}, nil
}

// PublicKey is the local identity.
func (s *Service) PublicKey() domain.PublicKey { return s.key.PublicKey() }

// Filter matches direct messages addressed to the local identity.
func (s *Service) Filter() domain.Filter {
	return domain.Filter{
		Kinds: []int{domain.KindEncryptedDirectMessage},
		Tags:  map[string][]string{"p": {s.key.PublicKey().String()}},
	}
}

// Seal encrypts plaintext for recipient and returns the signed event.
func (s *Service) Seal(recipient domain.PublicKey, plaintext []byte, at time.Time) (domain.Event, error) {
	if recipient.IsZero() {
		return domain.Event{}, fmt.Errorf("%w: empty recipient key", domain.ErrInvalidConfiguration)
	}
	ch, err := s.channel(recipient)
	if err != nil {
		return domain.Event{}, err
	}
	env, err := ch.Encrypt(plaintext)
	if err != nil {
		return domain.Event{}, err
	}
	content, err := channel.MarshalEnvelope(env)
	if err != nil {
		return domain.Event{}, err
	}
	ev := domain.Event{
		CreatedAt: at.Unix(),
		Kind:      domain.KindEncryptedDirectMessage,
		Tags:      []domain.Tag{{"p", recipient.String()}},
		Content:   content,
	}
	if err := event.Sign(&ev, s.key); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

// Open decrypts an inbound direct message. The event's author must be the
// envelope's sender and the local identity its recipient. Every decryption
// failure is domain.ErrAuthenticationFailure.
func (s *Service) Open(in domain.InboundEvent) (domain.DirectMessage, error) {
	ev := in.Event
	if ev.Kind != domain.KindEncryptedDirectMessage {
		return domain.DirectMessage{}, ErrNotDirectMessage
	}
	env, err := channel.ParseEnvelope(ev.Content)
	if err != nil {
		return domain.DirectMessage{}, err
	}
	if env.Sender != ev.PubKey || env.Recipient != s.key.PublicKey() {
		return domain.DirectMessage{}, domain.ErrAuthenticationFailure
	}
	ch, err := s.channel(env.Sender)
	if err != nil {
		return domain.DirectMessage{}, domain.ErrAuthenticationFailure
	}
	pt, err := ch.Decrypt(env)
	if err != nil {
		return domain.DirectMessage{}, err
	}
	return domain.DirectMessage{
		EventID:   ev.ID,
		From:      env.Sender,
		Plaintext: pt,
		SentAt:    ev.Created(),
		Relay:     in.Relay,
	}, nil
}

// Reset forgets every cached channel.
func (s *Service) Reset() { s.channels.Purge() }

func (s *Service) channel(peer domain.PublicKey) (*channel.Channel, error) {
	if ch, ok := s.channels.Get(peer); ok {
		return ch, nil
	}
	ch, err := channel.New(s.key, peer)
	if err != nil {
		return nil, err
	}
	// A concurrent caller may have won; either channel is valid.
	s.channels.Add(peer, ch)
	return ch, nil
}
