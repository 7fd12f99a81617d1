package notifier

import "context"

// Provider is the interface every delivery channel implements — webhook,
// email, Slack. Modeled on the provider-agnostic messaging interface: a
// dispatcher fans an Event out to every configured provider without caring
// which transport it rides on.
type Provider interface {
	// Name returns the provider identifier ("webhook", "email", "slack").
	Name() string

	// Deliver sends ev to the given target (a webhook URL, an email
	// address, a Slack channel — interpretation is provider-specific).
	Deliver(ctx context.Context, target string, ev Event) error
}

// Registry holds the configured Provider set keyed by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider to the registry, keyed by its Name().
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns the provider with the given name, or false if none is
// registered.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}
