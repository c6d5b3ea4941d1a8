package notify

import (
	"context"
	"fmt"

	"github.com/cronflow/cronflow/internal/models"
)

// Message is an already-rendered notification ready for delivery.
type Message struct {
	Recipients []string // email addresses; unused for webhook channels
	Subject    string
	Body       string
}

// Notifier delivers one rendered message over its channel. Delivery failure
// is an error return, never a panic; callers log and swallow it
// (at-least-once, best-effort semantics).
type Notifier interface {
	Kind() string
	Send(ctx context.Context, cred *models.Credential, msg Message) error
}

// Set is the closed collection of channel variants, dispatched by kind.
type Set struct {
	byKind map[string]Notifier
}

func NewSet(notifiers ...Notifier) *Set {
	byKind := make(map[string]Notifier, len(notifiers))
	for _, n := range notifiers {
		byKind[n.Kind()] = n
	}
	return &Set{byKind: byKind}
}

// ForKind resolves the variant for a channel kind.
func (s *Set) ForKind(kind string) (Notifier, error) {
	n, ok := s.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported channel kind %q", kind)
	}
	return n, nil
}
