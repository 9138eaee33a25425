package crmsync

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-crmsync/core"
)

// ExtractorPack lets a host replace or add extractors for a set of event
// types without touching the default LMS sources.
type ExtractorPack struct {
	Name       string
	Extractors map[core.EventType]core.Extractor
}

type ObserverPack struct {
	Name      string
	Observers []core.DeliveryObserver
}

type ExtensionHooks struct {
	mu sync.RWMutex

	extractorPacks map[string]ExtractorPack
	observerPacks  map[string]ObserverPack
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		extractorPacks: map[string]ExtractorPack{},
		observerPacks:  map[string]ObserverPack{},
	}
}

func (h *ExtensionHooks) RegisterExtractorPack(pack ExtractorPack) error {
	if h == nil {
		return fmt.Errorf("crmsync: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("crmsync: extractor pack name is required")
	}
	if len(pack.Extractors) == 0 {
		return fmt.Errorf("crmsync: extractor pack %q has no extractors", name)
	}
	normalized := ExtractorPack{Name: name, Extractors: make(map[core.EventType]core.Extractor, len(pack.Extractors))}
	for eventType, extractor := range pack.Extractors {
		if !eventType.Valid() {
			return fmt.Errorf("crmsync: extractor pack %q: %w: %q", name, core.ErrUnknownEventType, eventType)
		}
		if extractor == nil {
			return fmt.Errorf("crmsync: extractor pack %q has nil extractor for %s", name, eventType)
		}
		normalized.Extractors[eventType] = extractor
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.extractorPacks[name]; exists {
		return fmt.Errorf("crmsync: extractor pack %q already registered", name)
	}
	h.extractorPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterObserverPack(pack ObserverPack) error {
	if h == nil {
		return fmt.Errorf("crmsync: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("crmsync: observer pack name is required")
	}
	if len(pack.Observers) == 0 {
		return fmt.Errorf("crmsync: observer pack %q has no observers", name)
	}
	for _, observer := range pack.Observers {
		if observer == nil {
			return fmt.Errorf("crmsync: observer pack %q contains nil observer", name)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.observerPacks[name]; exists {
		return fmt.Errorf("crmsync: observer pack %q already registered", name)
	}
	h.observerPacks[name] = ObserverPack{
		Name:      name,
		Observers: append([]core.DeliveryObserver(nil), pack.Observers...),
	}
	return nil
}

// Extractors merges every registered pack in name order. A later pack wins
// when two packs claim the same event type.
func (h *ExtensionHooks) Extractors() map[core.EventType]core.Extractor {
	out := map[core.EventType]core.Extractor{}
	if h == nil {
		return out
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, name := range sortedKeys(h.extractorPacks) {
		for eventType, extractor := range h.extractorPacks[name].Extractors {
			out[eventType] = extractor
		}
	}
	return out
}

func (h *ExtensionHooks) Observers() []core.DeliveryObserver {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := []core.DeliveryObserver{}
	for _, name := range sortedKeys(h.observerPacks) {
		out = append(out, h.observerPacks[name].Observers...)
	}
	return out
}

// Options turns the registered packs into service options.
func (h *ExtensionHooks) Options() []Option {
	if h == nil {
		return nil
	}
	opts := []Option{}
	if extractors := h.Extractors(); len(extractors) > 0 {
		opts = append(opts, core.WithExtractors(extractors))
	}
	for _, observer := range h.Observers() {
		opts = append(opts, core.WithDeliveryObserver(observer))
	}
	return opts
}

func (h *ExtensionHooks) PackNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := append(sortedKeys(h.extractorPacks), sortedKeys(h.observerPacks)...)
	sort.Strings(names)
	return names
}

func sortedKeys[T any](values map[string]T) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
