// Package digitalio drives the switchable outputs of the controller: DUT
// power, the IOBus supply and the two auxiliary outputs. Each output is
// exposed as a web-writable bool topic; writing the topic drives the
// underlying line.
package digitalio

import (
	"context"

	"go.uber.org/zap"

	"github.com/fiurin/tacd/internal/broker"
	"github.com/fiurin/tacd/internal/config"
)

// Line names as they appear in the gpio-by-name directory.
const (
	LineDutPower   = "DUT_PWR_EN"
	LineIoBusPower = "IOBUS_PWR_EN"
	LineOut0       = "OUT_0"
	LineOut1       = "OUT_1"
)

// LineSetter drives the physical level of one named line.
type LineSetter interface {
	SetLevel(line string, level bool) error
}

type output struct {
	line  string
	topic *broker.Topic[bool]

	// DUT_PWR_EN is active low: logical "powered" means line level 0.
	activeLow bool
}

// DigitalIo owns the output topics and keeps lines in sync with them.
type DigitalIo struct {
	log     *zap.Logger
	setter  LineSetter
	outputs []*output

	DutPower   *broker.Topic[bool]
	IoBusPower *broker.Topic[bool]
	Out0       *broker.Topic[bool]
	Out1       *broker.Topic[bool]
}

// New registers the output topics. All outputs start de-asserted.
func New(b *broker.Broker, cfg *config.Config, setter LineSetter, log *zap.Logger) *DigitalIo {
	d := &DigitalIo{log: log, setter: setter}

	d.DutPower = broker.TopicRW[bool](b, "/v1/dut/powered", false)
	d.IoBusPower = broker.TopicRW[bool](b, "/v1/iobus/powered", false)
	d.Out0 = broker.TopicRW[bool](b, "/v1/output/out_0/asserted", false)
	d.Out1 = broker.TopicRW[bool](b, "/v1/output/out_1/asserted", false)

	d.outputs = []*output{
		{line: LineDutPower, topic: d.DutPower, activeLow: true},
		{line: LineIoBusPower, topic: d.IoBusPower},
		{line: LineOut0, topic: d.Out0},
		{line: LineOut1, topic: d.Out1},
	}
	return d
}

// Run applies the initial line levels, then follows topic writes until the
// context is cancelled.
func (d *DigitalIo) Run(ctx context.Context) error {
	type update struct {
		out *output
		on  bool
	}
	updates := make(chan update, 16)

	subs := make([]<-chan bool, len(d.outputs))
	for i, out := range d.outputs {
		d.apply(out, false)
		ch := out.topic.Subscribe(8)
		subs[i] = ch
		out := out
		go func() {
			for on := range ch {
				select {
				case updates <- update{out: out, on: on}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	defer func() {
		for i, out := range d.outputs {
			out.topic.Unsubscribe(subs[i])
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-updates:
			d.apply(u.out, u.on)
		}
	}
}

func (d *DigitalIo) apply(out *output, on bool) {
	level := on
	if out.activeLow {
		level = !on
	}
	if err := d.setter.SetLevel(out.line, level); err != nil {
		d.log.Error("failed to set output line",
			zap.String("line", out.line), zap.Bool("on", on), zap.Error(err))
		return
	}
	d.log.Debug("output line set", zap.String("line", out.line), zap.Bool("on", on))
}
