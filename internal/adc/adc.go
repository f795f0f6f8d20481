// Package adc publishes the analog measurements of the controller: DUT
// power rail voltage/current, IOBus supply and the two auxiliary outputs.
// Each channel is sampled on a fixed interval and published as a
// Measurement on its broker topic.
package adc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fiurin/tacd/internal/broker"
	"github.com/fiurin/tacd/internal/config"
)

// Measurement is a single timestamped sample. All analog topics carry this
// shape.
type Measurement struct {
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"value"`
}

// Sampler reads the current physical value of one channel.
type Sampler interface {
	Sample(name string) (float64, error)
}

// channelSpec describes one ADC channel and its demo-mode behavior.
type channelSpec struct {
	name    string
	nominal float64 // demo value when the channel is enabled
	ripple  float64 // demo ripple amplitude
}

// The channel set mirrors the LXA TAC front end: DUT power rail, IOBus
// supply and the two jumperable outputs.
var channelSpecs = []channelSpec{
	{name: "pwr-volt", nominal: 12.0, ripple: 0.05},
	{name: "pwr-curr", nominal: 1.2, ripple: 0.02},
	{name: "iobus-volt", nominal: 12.0, ripple: 0.05},
	{name: "iobus-curr", nominal: 0.15, ripple: 0.01},
	{name: "out0-volt", nominal: 3.3, ripple: 0.01},
	{name: "out1-volt", nominal: 3.3, ripple: 0.01},
}

// Channel is one published analog channel.
type Channel struct {
	spec  channelSpec
	topic *broker.Topic[Measurement]
}

// Adc samples all channels and publishes them.
type Adc struct {
	log      *zap.Logger
	interval time.Duration
	sampler  Sampler
	channels map[string]*Channel
}

// New registers the ADC topics on the broker. In demo mode the sampler is a
// synthetic source that the digitalio package couples into; otherwise
// samples are read from the iio sysfs directory.
func New(b *broker.Broker, cfg *config.Config, log *zap.Logger) *Adc {
	var sampler Sampler
	if cfg.Hardware.DemoMode {
		sampler = newDemoSampler()
	} else {
		sampler = &sysfsSampler{dir: cfg.Hardware.AdcDir}
	}

	a := &Adc{
		log:      log,
		interval: cfg.AdcInterval(),
		sampler:  sampler,
		channels: make(map[string]*Channel, len(channelSpecs)),
	}
	for _, spec := range channelSpecs {
		a.channels[spec.name] = &Channel{
			spec:  spec,
			topic: broker.TopicRO[Measurement](b, "/v1/tac/adc/"+spec.name),
		}
	}
	return a
}

// Demo returns the synthetic sampler, or nil outside demo mode. The
// digitalio demo backend uses it so that toggling an output has an effect
// on the measured values.
func (a *Adc) Demo() *DemoSampler {
	d, _ := a.sampler.(*DemoSampler)
	return d
}

// Run samples all channels until the context is cancelled.
func (a *Adc) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			a.sampleAll(now)
		}
	}
}

func (a *Adc) sampleAll(now time.Time) {
	for name, ch := range a.channels {
		val, err := a.sampler.Sample(name)
		if err != nil {
			a.log.Warn("adc sample failed", zap.String("channel", name), zap.Error(err))
			continue
		}
		ch.topic.Set(Measurement{Timestamp: now, Value: val})
	}
}

// Topic returns the topic of a channel by name, for tests and wiring.
func (a *Adc) Topic(name string) (*broker.Topic[Measurement], error) {
	ch, ok := a.channels[name]
	if !ok {
		return nil, fmt.Errorf("adc: unknown channel %q", name)
	}
	return ch.topic, nil
}
