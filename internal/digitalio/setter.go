package digitalio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fiurin/tacd/internal/adc"
)

// SysfsSetter writes line levels to <dir>/<LINE_NAME>/value.
type SysfsSetter struct {
	Dir string
}

// SetLevel implements LineSetter.
func (s *SysfsSetter) SetLevel(line string, level bool) error {
	val := "0"
	if level {
		val = "1"
	}
	path := filepath.Join(s.Dir, line, "value")
	if err := os.WriteFile(path, []byte(val), 0o644); err != nil {
		return fmt.Errorf("digitalio: write %s: %w", path, err)
	}
	return nil
}

// DemoSetter couples output lines into the synthetic ADC channels so that
// toggling an output is visible on the dashboards without hardware.
type DemoSetter struct {
	Demo *adc.DemoSampler
}

// SetLevel implements LineSetter. The mapping matches the controller
// wiring: the IOBus switch gates both IOBus channels, the DUT power enable
// is active low toward the power rail channels.
func (s *DemoSetter) SetLevel(line string, level bool) error {
	switch line {
	case LineOut0:
		s.Demo.SetEnabled("out0-volt", level)
	case LineOut1:
		s.Demo.SetEnabled("out1-volt", level)
	case LineIoBusPower:
		s.Demo.SetEnabled("iobus-volt", level)
		s.Demo.SetEnabled("iobus-curr", level)
	case LineDutPower:
		s.Demo.SetEnabled("pwr-volt", !level)
		s.Demo.SetEnabled("pwr-curr", !level)
	}
	return nil
}
