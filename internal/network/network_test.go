package network

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/fiurin/tacd/internal/broker"
	"github.com/fiurin/tacd/internal/config"
)

type fakeSource struct {
	mu     sync.Mutex
	info   LinkInfo
	addrs  []string
	err    error
	events chan struct{}
}

func (f *fakeSource) LinkInfo(string) (LinkInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, f.err
}

func (f *fakeSource) Addresses(string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addrs, f.err
}

func (f *fakeSource) Events([]string) (<-chan struct{}, error) {
	if f.events == nil {
		return nil, nil
	}
	return f.events, nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) setInfo(info LinkInfo) {
	f.mu.Lock()
	f.info = info
	f.mu.Unlock()
}

func fakeNetwork(t *testing.T, src Source) *Network {
	t.Helper()
	cfg := config.Default()
	cfg.Hardware.DemoMode = true // avoid the system bus; source replaced below
	cfg.Network.Interfaces = []string{"dut"}

	n, err := New(broker.New(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	n.source = src
	return n
}

func TestPollPublishesLinkAndAddresses(t *testing.T) {
	src := &fakeSource{info: LinkInfo{Speed: 1000, Carrier: true}, addrs: []string{"10.0.0.2"}}
	n := fakeNetwork(t, src)

	n.pollAll()

	info, ok := n.links["dut"].TryGet()
	if !ok || info.Speed != 1000 || !info.Carrier {
		t.Fatalf("unexpected link info %+v (ok=%v)", info, ok)
	}
	addrs, ok := n.addrs["dut"].TryGet()
	if !ok || len(addrs) != 1 || addrs[0] != "10.0.0.2" {
		t.Fatalf("unexpected addresses %v (ok=%v)", addrs, ok)
	}
}

func TestPollOnlyPublishesChanges(t *testing.T) {
	src := &fakeSource{info: LinkInfo{Speed: 100, Carrier: true}}
	n := fakeNetwork(t, src)

	updates := n.links["dut"].Subscribe(8)
	defer n.links["dut"].Unsubscribe(updates)

	n.pollAll()
	n.pollAll() // identical state, no second update

	src.setInfo(LinkInfo{Speed: 1000, Carrier: true})
	n.pollAll()

	got := 0
	for len(updates) > 0 {
		<-updates
		got++
	}
	if got != 2 {
		t.Errorf("expected 2 link updates (initial + change), got %d", got)
	}
}

func TestPollSourceErrorKeepsTopicsUnset(t *testing.T) {
	src := &fakeSource{err: errors.New("no such device")}
	n := fakeNetwork(t, src)

	n.pollAll()

	if _, ok := n.links["dut"].TryGet(); ok {
		t.Errorf("link topic must stay unset on source errors")
	}
}

func TestSourceEventTriggersImmediatePoll(t *testing.T) {
	src := &fakeSource{
		info:   LinkInfo{Speed: 100, Carrier: true},
		events: make(chan struct{}, 1),
	}
	n := fakeNetwork(t, src)
	n.interval = time.Hour // changes must arrive via the event, not the ticker

	updates := n.links["dut"].Subscribe(8)
	defer n.links["dut"].Unsubscribe(updates)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	select {
	case info := <-updates:
		if info.Speed != 100 {
			t.Fatalf("initial link info %+v", info)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the initial poll")
	}

	src.setInfo(LinkInfo{Speed: 1000, Carrier: true})
	src.events <- struct{}{}

	select {
	case info := <-updates:
		if info.Speed != 1000 {
			t.Fatalf("link info after change event %+v", info)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a re-poll on the change event")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
}

func TestDemoSource(t *testing.T) {
	var src Source = demoSource{}
	info, err := src.LinkInfo("dut")
	if err != nil || !info.Carrier || info.Speed == 0 {
		t.Errorf("unexpected demo link info %+v err=%v", info, err)
	}
	addrs, err := src.Addresses("dut")
	if err != nil || len(addrs) == 0 {
		t.Errorf("unexpected demo addresses %v err=%v", addrs, err)
	}
	if events, err := src.Events([]string{"dut"}); events != nil || err != nil {
		t.Errorf("demo source must be poll-only, got %v err=%v", events, err)
	}
}
