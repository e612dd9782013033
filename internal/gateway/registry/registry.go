// Package registry owns the live provider configurations and the adapters
// built from them.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrmushfiq/ridegate/internal/gateway/providers"
	"github.com/mrmushfiq/ridegate/internal/shared/apperrors"
)

// Entry pairs a configuration with the adapter built from it. Entries are
// immutable once published.
type Entry struct {
	Config  providers.ServiceConfig
	Adapter providers.Adapter
}

// Patch is a partial reconfiguration. Nil fields keep the current value.
type Patch struct {
	DisplayName        *string
	BaseURL            *string
	Timeout            *time.Duration
	MaxRetries         *int
	RetryBaseDelay     *time.Duration
	RateLimitPerMinute *int
	Enabled            *bool
	AuthKind           *providers.AuthKind
	AuthHeader         *string
	Username           *string
	Credential         *string
	ExtraHeaders       map[string]string
}

func (p Patch) apply(cfg providers.ServiceConfig) providers.ServiceConfig {
	if p.DisplayName != nil {
		cfg.DisplayName = *p.DisplayName
	}
	if p.BaseURL != nil {
		cfg.BaseURL = *p.BaseURL
	}
	if p.Timeout != nil {
		cfg.Timeout = *p.Timeout
	}
	if p.MaxRetries != nil {
		cfg.MaxRetries = *p.MaxRetries
	}
	if p.RetryBaseDelay != nil {
		cfg.RetryBaseDelay = *p.RetryBaseDelay
	}
	if p.RateLimitPerMinute != nil {
		cfg.RateLimitPerMinute = *p.RateLimitPerMinute
	}
	if p.Enabled != nil {
		cfg.Enabled = *p.Enabled
	}
	if p.AuthKind != nil {
		cfg.AuthKind = *p.AuthKind
	}
	if p.AuthHeader != nil {
		cfg.AuthHeader = *p.AuthHeader
	}
	if p.Username != nil {
		cfg.Username = *p.Username
	}
	if p.Credential != nil {
		cfg.Credential = *p.Credential
	}
	if p.ExtraHeaders != nil {
		headers := make(map[string]string, len(cfg.ExtraHeaders)+len(p.ExtraHeaders))
		for k, v := range cfg.ExtraHeaders {
			headers[k] = v
		}
		for k, v := range p.ExtraHeaders {
			if v == "" {
				delete(headers, k)
				continue
			}
			headers[k] = v
		}
		cfg.ExtraHeaders = headers
	}
	return cfg
}

type snapshot map[string]*Entry

// Registry manages provider entries. Readers load an immutable snapshot
// without locking; writers serialize on mu and publish a new map.
type Registry struct {
	mu       sync.Mutex
	current  atomic.Pointer[snapshot]
	onChange []func(providers.ServiceConfig)
	logger   zerolog.Logger
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Registry {
	r := &Registry{logger: logger}
	empty := snapshot{}
	r.current.Store(&empty)
	return r
}

// OnChange registers fn to run after every published change to a provider.
// Register listeners before serving traffic.
func (r *Registry) OnChange(fn func(providers.ServiceConfig)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// Lookup returns the current entry for id.
func (r *Registry) Lookup(id string) (*Entry, bool) {
	e, ok := (*r.current.Load())[id]
	return e, ok
}

// Get returns the configuration for id.
func (r *Registry) Get(id string) (providers.ServiceConfig, error) {
	e, ok := r.Lookup(id)
	if !ok {
		return providers.ServiceConfig{}, apperrors.NotFound("provider " + id)
	}
	return e.Config, nil
}

// IsAvailable reports whether id is configured and enabled.
func (r *Registry) IsAvailable(id string) bool {
	e, ok := r.Lookup(id)
	return ok && e.Config.Enabled
}

// List returns every configuration ordered by id.
func (r *Registry) List() []providers.ServiceConfig {
	snap := *r.current.Load()
	out := make([]providers.ServiceConfig, 0, len(snap))
	for _, e := range snap {
		out = append(out, e.Config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Register adds or replaces a provider.
func (r *Registry) Register(cfg providers.ServiceConfig) error {
	entry, err := build(cfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.publish(func(next snapshot) { next[cfg.ID] = entry })
	listeners := r.onChange
	r.mu.Unlock()

	notify(listeners, entry.Config)
	return nil
}

// Configure merges patch into the provider's config, validates the result
// and swaps in a new config and adapter together.
func (r *Registry) Configure(id string, patch Patch) (providers.ServiceConfig, error) {
	r.mu.Lock()
	cur, ok := (*r.current.Load())[id]
	if !ok {
		r.mu.Unlock()
		return providers.ServiceConfig{}, apperrors.NotFound("provider " + id)
	}

	entry, err := build(patch.apply(cur.Config))
	if err != nil {
		r.mu.Unlock()
		return providers.ServiceConfig{}, err
	}
	r.publish(func(next snapshot) { next[id] = entry })
	listeners := r.onChange
	r.mu.Unlock()

	r.logger.Info().Str("provider", id).Bool("enabled", entry.Config.Enabled).Msg("provider reconfigured")
	notify(listeners, entry.Config)
	return entry.Config, nil
}

// Sync replaces the whole provider set with cfgs. Invalid configs are
// skipped and keep their previous entry; providers absent from cfgs are
// removed.
func (r *Registry) Sync(cfgs []providers.ServiceConfig) {
	r.mu.Lock()
	prev := *r.current.Load()
	var changed []providers.ServiceConfig
	r.publish(func(next snapshot) {
		for id := range next {
			delete(next, id)
		}
		for _, cfg := range cfgs {
			entry, err := build(cfg)
			if err != nil {
				r.logger.Error().Err(err).Str("provider", cfg.ID).Msg("invalid provider config, keeping previous")
				if old, ok := prev[cfg.ID]; ok {
					next[cfg.ID] = old
				}
				continue
			}
			next[cfg.ID] = entry
			changed = append(changed, entry.Config)
		}
		for id := range prev {
			if _, ok := next[id]; !ok {
				r.logger.Info().Str("provider", id).Msg("provider removed")
			}
		}
	})
	listeners := r.onChange
	r.mu.Unlock()

	for _, cfg := range changed {
		notify(listeners, cfg)
	}
}

// publish copies the current snapshot, lets mutate edit the copy and
// stores it. Callers hold mu.
func (r *Registry) publish(mutate func(next snapshot)) {
	cur := *r.current.Load()
	next := make(snapshot, len(cur)+1)
	for id, e := range cur {
		next[id] = e
	}
	mutate(next)
	r.current.Store(&next)
}

func build(cfg providers.ServiceConfig) (*Entry, error) {
	adapter, err := providers.New(cfg)
	if err != nil {
		return nil, apperrors.Validation(err.Error(), nil)
	}
	return &Entry{Config: cfg, Adapter: adapter}, nil
}

func notify(listeners []func(providers.ServiceConfig), cfg providers.ServiceConfig) {
	for _, fn := range listeners {
		fn(cfg)
	}
}
