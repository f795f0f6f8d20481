package adc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/fiurin/tacd/internal/broker"
	"github.com/fiurin/tacd/internal/config"
)

func demoAdc(t *testing.T) (*Adc, *broker.Broker) {
	t.Helper()
	cfg := config.Default()
	cfg.Hardware.DemoMode = true
	b := broker.New()
	return New(b, cfg, zaptest.NewLogger(t)), b
}

func TestDemoSampleAllPublishes(t *testing.T) {
	a, _ := demoAdc(t)
	a.sampleAll(time.Now())

	topic, err := a.Topic("pwr-volt")
	if err != nil {
		t.Fatal(err)
	}
	m, ok := topic.TryGet()
	if !ok {
		t.Fatalf("expected a published measurement")
	}
	if m.Value < 11.9 || m.Value > 12.1 {
		t.Errorf("pwr-volt out of demo range: %v", m.Value)
	}
}

func TestDemoChannelDisable(t *testing.T) {
	a, _ := demoAdc(t)

	demo := a.Demo()
	if demo == nil {
		t.Fatalf("expected demo sampler in demo mode")
	}
	demo.SetEnabled("pwr-volt", false)

	v, err := demo.Sample("pwr-volt")
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Errorf("disabled channel must read 0, got %v", v)
	}

	demo.SetEnabled("pwr-volt", true)
	v, err = demo.Sample("pwr-volt")
	if err != nil {
		t.Fatal(err)
	}
	if v == 0 {
		t.Errorf("enabled channel must read nonzero")
	}
}

func TestDemoUnknownChannel(t *testing.T) {
	a, _ := demoAdc(t)
	if _, err := a.Demo().Sample("bogus"); err == nil {
		t.Fatalf("expected error for unknown channel")
	}
	if _, err := a.Topic("bogus"); err == nil {
		t.Fatalf("expected error for unknown topic")
	}
}

func TestSysfsSampler(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "in_voltage_pwr-volt_raw"), []byte("11987\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &sysfsSampler{dir: dir}
	v, err := s.Sample("pwr-volt")
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if v != 11.987 {
		t.Errorf("expected 11.987, got %v", v)
	}

	if _, err := s.Sample("missing"); err == nil {
		t.Fatalf("expected error for missing channel file")
	}
}
