package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kursadbilgin/notification-center/internal/config"
	"github.com/kursadbilgin/notification-center/internal/domain"
)

type factory func(s settings, opts ...Option) (Driver, error)

var factories = map[Kind]factory{
	KindMail:    newMailFromSettings,
	KindSMS:     newSMSFromSettings,
	KindBot:     newBotFromSettings,
	KindWebhook: newWebhookFromSettings,
}

// Registry resolves channel names to drivers, building each driver on first
// use and caching it for the life of the process.
type Registry struct {
	mu       sync.Mutex
	channels map[string]config.ChannelConfig
	drivers  map[string]Driver
	opts     []Option
}

func NewRegistry(channels map[string]config.ChannelConfig, opts ...Option) *Registry {
	normalized := make(map[string]config.ChannelConfig, len(channels))
	for name, ch := range channels {
		normalized[normalizeChannel(name)] = ch
	}

	return &Registry{
		channels: normalized,
		drivers:  make(map[string]Driver),
		opts:     opts,
	}
}

func (r *Registry) Resolve(channel string) (Driver, error) {
	name := normalizeChannel(channel)

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.drivers[name]; ok {
		return d, nil
	}

	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown channel %q", domain.ErrConfiguration, channel)
	}

	build, ok := factories[Kind(strings.ToLower(strings.TrimSpace(ch.Driver)))]
	if !ok {
		return nil, fmt.Errorf("%w: channel %q uses unknown driver %q", domain.ErrConfiguration, name, ch.Driver)
	}

	d, err := build(settings(ch.Settings), r.opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: channel %q: %w", domain.ErrConfiguration, name, err)
	}
	r.drivers[name] = d

	return d, nil
}

func (r *Registry) HasChannel(name string) bool {
	_, ok := r.channels[normalizeChannel(name)]
	return ok
}

// ListChannels returns the configured channel names in sorted order.
func (r *Registry) ListChannels() []string {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeChannel(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
