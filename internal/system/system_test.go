package system

import (
	"testing"

	"github.com/fiurin/tacd/internal/broker"
)

func TestPublish(t *testing.T) {
	b := broker.New()
	topic := Publish(b)

	info, ok := topic.TryGet()
	if !ok {
		t.Fatalf("expected info to be set at boot")
	}
	if info.Version != Version {
		t.Errorf("expected version %q, got %q", Version, info.Version)
	}
	if info.StartedAt.IsZero() {
		t.Errorf("expected a start timestamp")
	}

	if _, ok := b.Lookup("/v1/tac/info"); !ok {
		t.Errorf("info topic not registered")
	}
}
