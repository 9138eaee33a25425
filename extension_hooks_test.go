package crmsync

import (
	"context"
	"testing"

	"github.com/goliatone/go-crmsync/core"
)

func staticExtractor(value string) core.Extractor {
	return core.ExtractorFunc(func(context.Context, string) (core.Payload, bool, error) {
		return core.Payload{"source": value}, true, nil
	})
}

func TestExtensionHooks_RegisterExtractorPacks(t *testing.T) {
	hooks := NewExtensionHooks()
	pack := ExtractorPack{
		Name: "pack_b",
		Extractors: map[core.EventType]core.Extractor{
			core.EventUserCreated: staticExtractor("b"),
		},
	}
	if err := hooks.RegisterExtractorPack(pack); err != nil {
		t.Fatalf("register pack b: %v", err)
	}
	if err := hooks.RegisterExtractorPack(pack); err == nil {
		t.Fatalf("expected duplicate pack registration error")
	}
	if err := hooks.RegisterExtractorPack(ExtractorPack{
		Name: "pack_a",
		Extractors: map[core.EventType]core.Extractor{
			core.EventUserCreated:  staticExtractor("a"),
			core.EventGradeUpdated: staticExtractor("a"),
		},
	}); err != nil {
		t.Fatalf("register pack a: %v", err)
	}

	extractors := hooks.Extractors()
	if len(extractors) != 2 {
		t.Fatalf("expected two event types, got %d", len(extractors))
	}
	payload, _, err := extractors[core.EventUserCreated].Extract(context.Background(), "u1")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if payload["source"] != "b" {
		t.Fatalf("expected later pack in name order to win, got %v", payload["source"])
	}
}

func TestExtensionHooks_RejectsInvalidPacks(t *testing.T) {
	hooks := NewExtensionHooks()
	cases := []ExtractorPack{
		{Name: " ", Extractors: map[core.EventType]core.Extractor{core.EventUserCreated: staticExtractor("x")}},
		{Name: "empty"},
		{Name: "unknown", Extractors: map[core.EventType]core.Extractor{"course_created": staticExtractor("x")}},
		{Name: "nil", Extractors: map[core.EventType]core.Extractor{core.EventUserCreated: nil}},
	}
	for _, pack := range cases {
		if err := hooks.RegisterExtractorPack(pack); err == nil {
			t.Fatalf("expected pack %q to be rejected", pack.Name)
		}
	}
	if err := hooks.RegisterObserverPack(ObserverPack{Name: "obs", Observers: []core.DeliveryObserver{nil}}); err == nil {
		t.Fatalf("expected nil observer to be rejected")
	}
}

func TestExtensionHooks_OptionsFeedService(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterObserverPack(ObserverPack{
		Name: "audit",
		Observers: []core.DeliveryObserver{
			core.DeliveryObserverFunc(func(context.Context, core.Event, core.DeliveryResult) {}),
		},
	}); err != nil {
		t.Fatalf("register observer pack: %v", err)
	}
	if err := hooks.RegisterExtractorPack(ExtractorPack{
		Name:       "users",
		Extractors: map[core.EventType]core.Extractor{core.EventUserCreated: staticExtractor("u")},
	}); err != nil {
		t.Fatalf("register extractor pack: %v", err)
	}
	if got := len(hooks.Options()); got != 2 {
		t.Fatalf("expected extractor and observer options, got %d", got)
	}
	if names := hooks.PackNames(); len(names) != 2 || names[0] != "audit" || names[1] != "users" {
		t.Fatalf("unexpected pack names: %v", names)
	}
	var nilHooks *ExtensionHooks
	if nilHooks.Options() != nil {
		t.Fatalf("expected nil hooks to contribute no options")
	}
}
