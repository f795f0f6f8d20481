// Package system publishes static daemon information.
package system

import (
	"os"
	"time"

	"github.com/fiurin/tacd/internal/broker"
)

// Version is overridden at build time via
// -ldflags "-X github.com/fiurin/tacd/internal/system.Version=...".
var Version = "dev"

// Info describes the running daemon.
type Info struct {
	Version   string    `json:"version"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// Publish registers the info topic and sets it once at boot.
func Publish(b *broker.Broker) *broker.Topic[Info] {
	hostname, _ := os.Hostname()
	return broker.TopicRO[Info](b, "/v1/tac/info", Info{
		Version:   Version,
		Hostname:  hostname,
		StartedAt: time.Now().UTC(),
	})
}
