package adc

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// DemoSampler produces synthetic channel values. Channels start enabled;
// the digitalio demo backend switches them when outputs are toggled so the
// dashboards show plausible cause and effect without hardware.
type DemoSampler struct {
	mu      sync.Mutex
	enabled map[string]bool
	start   time.Time
}

func newDemoSampler() *DemoSampler {
	d := &DemoSampler{
		enabled: make(map[string]bool, len(channelSpecs)),
		start:   time.Now(),
	}
	for _, spec := range channelSpecs {
		d.enabled[spec.name] = true
	}
	return d
}

// SetEnabled switches a channel on or off.
func (d *DemoSampler) SetEnabled(name string, on bool) {
	d.mu.Lock()
	d.enabled[name] = on
	d.mu.Unlock()
}

// Sample implements Sampler with a nominal level plus a slow sine ripple.
// Disabled channels read as (almost) zero, like a switched-off rail.
func (d *DemoSampler) Sample(name string) (float64, error) {
	var spec *channelSpec
	for i := range channelSpecs {
		if channelSpecs[i].name == name {
			spec = &channelSpecs[i]
			break
		}
	}
	if spec == nil {
		return 0, fmt.Errorf("adc: unknown channel %q", name)
	}

	d.mu.Lock()
	on := d.enabled[name]
	d.mu.Unlock()

	if !on {
		return 0, nil
	}

	phase := time.Since(d.start).Seconds()
	return spec.nominal + spec.ripple*math.Sin(phase), nil
}
