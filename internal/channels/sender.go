// Package channels defines the outbound send contract and the registry that
// resolves a channel name to a concrete sender. Provider adapters (Telegram,
// Discord, a CRM's WhatsApp/SMS/email gateways) all implement the same Sender
// interface; the dispatcher never knows which provider is behind a channel.
package channels

import (
	"context"
	"sort"
	"sync"

	"github.com/gridhaus/leadflow/pkg/schema"
)

// Message is the rendered content handed to a sender.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// SendResult reports the provider's view of a completed send.
type SendResult struct {
	Provider          string
	ProviderMessageID string
	ProviderStatus    string
}

// Sender is implemented by each channel collaborator.
type Sender interface {
	Channel() string
	Send(ctx context.Context, msg Message) (*SendResult, error)
}

// Registry is a thread-safe mapping of channel name to Sender.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		senders: make(map[string]Sender),
	}
}

// Register adds a sender to the registry. Returns error on duplicate channel.
func (r *Registry) Register(s Sender) error {
	if s == nil {
		return schema.NewError(schema.ErrCodeValidation, "sender is nil")
	}
	channel := s.Channel()
	if channel == "" {
		return schema.NewError(schema.ErrCodeValidation, "sender channel is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.senders[channel]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "channel %q already registered", channel)
	}

	r.senders[channel] = s
	return nil
}

// Get retrieves a sender by channel name.
func (r *Registry) Get(channel string) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.senders[channel]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeSendFailed, "no sender registered for channel %q", channel)
	}
	return s, nil
}

// Channels returns the registered channel names, sorted.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.senders))
	for name := range r.senders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
