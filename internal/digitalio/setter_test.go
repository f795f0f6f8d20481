package digitalio

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/fiurin/tacd/internal/adc"
	"github.com/fiurin/tacd/internal/broker"
	"github.com/fiurin/tacd/internal/config"
)

func TestDemoSetterCoupling(t *testing.T) {
	cfg := config.Default()
	cfg.Hardware.DemoMode = true
	a := adc.New(broker.New(), cfg, zaptest.NewLogger(t))

	s := &DemoSetter{Demo: a.Demo()}

	// DUT power enable is active low: line high means rail off.
	if err := s.SetLevel(LineDutPower, true); err != nil {
		t.Fatal(err)
	}
	if v, _ := a.Demo().Sample("pwr-volt"); v != 0 {
		t.Errorf("expected dead power rail, got %v", v)
	}

	if err := s.SetLevel(LineDutPower, false); err != nil {
		t.Fatal(err)
	}
	if v, _ := a.Demo().Sample("pwr-volt"); v == 0 {
		t.Errorf("expected live power rail")
	}

	// IOBus gates both of its channels.
	if err := s.SetLevel(LineIoBusPower, false); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []string{"iobus-volt", "iobus-curr"} {
		if v, _ := a.Demo().Sample(ch); v != 0 {
			t.Errorf("expected %s off, got %v", ch, v)
		}
	}
}
