// Package network publishes hostname, link state and addresses of the
// controller's network interfaces.
package network

import (
	"context"
	"os"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/fiurin/tacd/internal/broker"
	"github.com/fiurin/tacd/internal/config"
)

// LinkInfo describes the state of one wired interface.
type LinkInfo struct {
	Speed   uint32 `json:"speed"` // Mbit/s, 0 when down
	Carrier bool   `json:"carrier"`
}

// Source provides the actual interface state. Production uses
// NetworkManager over D-Bus; demo mode uses canned values.
type Source interface {
	LinkInfo(iface string) (LinkInfo, error)
	Addresses(iface string) ([]string, error)

	// Events delivers a tick whenever the source notices a change on one
	// of the interfaces, so state is republished without waiting for the
	// next poll interval. A nil channel means the source is poll-only.
	Events(ifaces []string) (<-chan struct{}, error)

	Close() error
}

// Network owns the network topics and keeps them current.
type Network struct {
	log      *zap.Logger
	interval time.Duration
	ifaces   []string
	source   Source

	hostname *broker.Topic[string]
	links    map[string]*broker.Topic[LinkInfo]
	addrs    map[string]*broker.Topic[[]string]
}

// New registers the network topics. Outside demo mode this connects to the
// system bus, which fails on hosts without NetworkManager.
func New(b *broker.Broker, cfg *config.Config, log *zap.Logger) (*Network, error) {
	var source Source
	if cfg.Hardware.DemoMode {
		source = demoSource{}
	} else {
		var err error
		source, err = newManagerSource()
		if err != nil {
			return nil, err
		}
	}

	n := &Network{
		log:      log,
		interval: cfg.NetworkPollInterval(),
		ifaces:   cfg.Network.Interfaces,
		source:   source,
		hostname: broker.TopicRO[string](b, "/v1/tac/network/hostname"),
		links:    make(map[string]*broker.Topic[LinkInfo]),
		addrs:    make(map[string]*broker.Topic[[]string]),
	}
	for _, iface := range n.ifaces {
		base := "/v1/tac/network/interface/" + iface
		n.links[iface] = broker.TopicRO[LinkInfo](b, base)
		n.addrs[iface] = broker.TopicRO[[]string](b, base+"/addresses")
	}
	return n, nil
}

// Run publishes the hostname and polls the interfaces until the context is
// cancelled.
func (n *Network) Run(ctx context.Context) error {
	defer func() {
		if err := n.source.Close(); err != nil {
			n.log.Warn("failed to close network source", zap.Error(err))
		}
	}()

	if host, err := os.Hostname(); err == nil {
		n.hostname.Set(host)
	} else {
		n.log.Warn("failed to read hostname", zap.Error(err))
	}

	n.pollAll()

	// Change notifications trigger an immediate re-poll; the ticker stays
	// as a fallback for sources that cannot signal changes.
	events, err := n.source.Events(n.ifaces)
	if err != nil {
		n.log.Warn("change notifications unavailable, polling only", zap.Error(err))
		events = nil
	}

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.pollAll()
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			n.pollAll()
		}
	}
}

func (n *Network) pollAll() {
	for _, iface := range n.ifaces {
		n.poll(iface)
	}
}

// poll republishes link state and addresses, but only on change so that
// stream clients do not see a heartbeat of identical values.
func (n *Network) poll(iface string) {
	info, err := n.source.LinkInfo(iface)
	if err != nil {
		n.log.Debug("link info unavailable", zap.String("interface", iface), zap.Error(err))
	} else {
		n.links[iface].Modify(func(cur LinkInfo, ok bool) (LinkInfo, bool) {
			return info, !ok || cur != info
		})
	}

	addrs, err := n.source.Addresses(iface)
	if err != nil {
		n.log.Debug("addresses unavailable", zap.String("interface", iface), zap.Error(err))
		return
	}
	n.addrs[iface].Modify(func(cur []string, ok bool) ([]string, bool) {
		return addrs, !ok || !reflect.DeepEqual(cur, addrs)
	})
}
