// Package delivery resolves recipients to device tokens, hands messages to
// the push relay, and prunes tokens the relay reports as dead.
package delivery

import (
	"context"
	"sync"

	"pushbridge/internal/composer"
	"pushbridge/internal/directory"
	"pushbridge/internal/eventbus"
	"pushbridge/internal/identity"
	"pushbridge/internal/prefs"
	"pushbridge/internal/relay"
	logx "pushbridge/pkg/logx"
)

// Sender is the outbound relay contract (satisfied by *relay.Client).
type Sender interface {
	Send(ctx context.Context, m relay.Message) (relay.Result, error)
}

type Config struct {
	// ConfirmRegistrations enables the one-device confirmation push for
	// newly registered tokens.
	ConfirmRegistrations bool
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	log    logx.Logger
	dir    directory.Store
	sender Sender
	comp   *composer.Composer
	bus    eventbus.Bus
}

func New(cfg Config, dir directory.Store, sender Sender, comp *composer.Composer, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, dir: dir, sender: sender, comp: comp, bus: bus}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Send resolves recipients to validated, deduplicated device tokens and
// performs at most one relay call. An empty resolved token set is a no-op,
// not an error: it is the common case when no device is registered.
//
// A nil recipients slice addresses every user in the directory.
func (s *Service) Send(ctx context.Context, title, body, itemID string, recipients []string) error {
	tokens, err := s.dir.GetTokensForUsers(ctx, recipients)
	if err != nil {
		// Store failures degrade to "notification not sent".
		s.log.Warn("token resolution failed", logx.Err(err))
		return nil
	}

	valid := tokens[:0]
	seen := map[string]struct{}{}
	for _, t := range tokens {
		ct, ok := identity.CanonicalToken(t)
		if !ok {
			continue
		}
		if _, dup := seen[ct]; dup {
			continue
		}
		seen[ct] = struct{}{}
		valid = append(valid, ct)
	}

	if len(valid) == 0 {
		s.log.Debug("no registered devices for recipients", logx.Int("recipients", len(recipients)))
		s.publish(eventbus.TypeDeliverySkipped, map[string]any{"title": title})
		return nil
	}

	return s.post(ctx, relay.Message{Title: title, Body: body, ItemID: itemID, Tokens: valid})
}

// SendEvent composes and delivers a notification for one event kind.
// bodyOverride replaces the composed body when non-empty.
func (s *Service) SendEvent(ctx context.Context, kind prefs.Kind, itemID string, recipients []string, itemName, actorName, bodyOverride string) error {
	title, body := s.comp.Playback(kind, itemName, actorName)
	if bodyOverride != "" {
		body = bodyOverride
	}
	return s.Send(ctx, title, body, itemID, recipients)
}

// SendCustom delivers a free-form title/body, e.g. an admin broadcast.
func (s *Service) SendCustom(ctx context.Context, title, body string, recipients []string) error {
	return s.Send(ctx, title, body, "", recipients)
}

// SendRegistrationConfirmation pushes a confirmation to exactly one device.
// Callers invoke it only for genuinely new token registrations; the admin
// toggle gates it here.
func (s *Service) SendRegistrationConfirmation(ctx context.Context, token string) error {
	s.mu.Lock()
	enabled := s.cfg.ConfirmRegistrations
	s.mu.Unlock()
	if !enabled {
		return nil
	}

	ct, ok := identity.CanonicalToken(token)
	if !ok {
		return directory.ErrInvalidToken
	}
	title, body := s.comp.RegistrationConfirmation()
	return s.post(ctx, relay.Message{Title: title, Body: body, Tokens: []string{ct}})
}

// post performs the relay call and feeds reported invalid tokens back into
// the directory. This pruning is the only mechanism that removes stale
// tokens, so it runs on failure responses too.
func (s *Service) post(ctx context.Context, m relay.Message) error {
	res, err := s.sender.Send(ctx, m)

	s.pruneInvalid(ctx, res.InvalidTokens)

	if err != nil {
		s.log.Warn("relay delivery failed",
			logx.Err(err),
			logx.Int("status", res.Status),
			logx.Int("tokens", len(m.Tokens)),
		)
		s.publish(eventbus.TypeDeliveryFailed, map[string]any{"title": m.Title, "tokens": len(m.Tokens), "err": err.Error()})
		return err
	}

	s.log.Info("notification delivered", logx.String("title", m.Title), logx.Int("tokens", len(m.Tokens)))
	s.publish(eventbus.TypeDeliverySent, map[string]any{"title": m.Title, "tokens": len(m.Tokens)})
	return nil
}

func (s *Service) pruneInvalid(ctx context.Context, tokens []string) {
	if len(tokens) == 0 {
		return
	}
	removed := 0
	for _, t := range tokens {
		ct, ok := identity.CanonicalToken(t)
		if !ok {
			continue
		}
		n, err := s.dir.RemoveToken(ctx, ct)
		if err != nil {
			s.log.Warn("token prune failed", logx.Err(err))
			continue
		}
		removed += n
	}
	if removed > 0 {
		s.log.Info("pruned invalid device tokens", logx.Int("removed", removed))
		s.publish(eventbus.TypeTokensPruned, map[string]any{"removed": removed})
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
