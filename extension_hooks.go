package guard

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderPack groups provider definitions shipped outside this module.
type ProviderPack struct {
	Name      string
	Providers []ProviderDefinition
}

// ChannelPack groups notification channels shipped outside this module.
type ChannelPack struct {
	Name     string
	Channels []NotificationChannel
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	providerPacks map[string]ProviderPack
	channelPacks  map[string]ChannelPack
	bundles       map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		providerPacks: map[string]ProviderPack{},
		channelPacks:  map[string]ChannelPack{},
		bundles:       map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterProviderPack(pack ProviderPack) error {
	if h == nil {
		return fmt.Errorf("guard: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("guard: provider pack name is required")
	}
	if len(pack.Providers) == 0 {
		return fmt.Errorf("guard: provider pack %q has no providers", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.providerPacks[name]; exists {
		return fmt.Errorf("guard: provider pack %q already registered", name)
	}
	h.providerPacks[name] = ProviderPack{
		Name:      name,
		Providers: append([]ProviderDefinition(nil), pack.Providers...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterChannelPack(pack ChannelPack) error {
	if h == nil {
		return fmt.Errorf("guard: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("guard: channel pack name is required")
	}
	if len(pack.Channels) == 0 {
		return fmt.Errorf("guard: channel pack %q has no channels", name)
	}
	for _, channel := range pack.Channels {
		if channel == nil {
			return fmt.Errorf("guard: channel pack %q contains nil channel", name)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.channelPacks[name]; exists {
		return fmt.Errorf("guard: channel pack %q already registered", name)
	}
	h.channelPacks[name] = ChannelPack{
		Name:     name,
		Channels: append([]NotificationChannel(nil), pack.Channels...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("guard: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("guard: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("guard: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("guard: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyProviderPacks registers every pack on registry in pack name order.
func (h *ExtensionHooks) ApplyProviderPacks(registry Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("guard: registry is required")
	}
	for _, pack := range h.ProviderPacks() {
		for _, definition := range pack.Providers {
			if err := registry.Register(definition); err != nil {
				return fmt.Errorf("guard: provider pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

// Options turns the registered packs into service options.
func (h *ExtensionHooks) Options() []Option {
	if h == nil {
		return nil
	}
	var opts []Option
	for _, pack := range h.ProviderPacks() {
		opts = append(opts, WithProviders(pack.Providers...))
	}
	if channels := h.Channels(); len(channels) > 0 {
		opts = append(opts, WithNotificationChannels(channels...))
	}
	return opts
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("guard: command/query service is required")
	}

	names := h.BundleNames()
	h.mu.RLock()
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, fmt.Errorf("guard: command/query bundle %q: %w", name, err)
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) ProviderPacks() []ProviderPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ProviderPack, 0, len(h.providerPacks))
	for _, name := range sortedKeys(h.providerPacks) {
		pack := h.providerPacks[name]
		out = append(out, ProviderPack{
			Name:      pack.Name,
			Providers: append([]ProviderDefinition(nil), pack.Providers...),
		})
	}
	return out
}

// Channels flattens the channel packs in pack name order.
func (h *ExtensionHooks) Channels() []NotificationChannel {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := []NotificationChannel{}
	for _, name := range sortedKeys(h.channelPacks) {
		out = append(out, h.channelPacks[name].Channels...)
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.bundles)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
