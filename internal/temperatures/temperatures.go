// Package temperatures publishes the SoC temperature and a high
// temperature warning flag.
package temperatures

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fiurin/tacd/internal/adc"
	"github.com/fiurin/tacd/internal/broker"
	"github.com/fiurin/tacd/internal/config"
)

// Hysteresis below the warning threshold before the warning clears again.
const warnHysteresis = 5.0

// Temperatures polls the SoC temperature sensor.
type Temperatures struct {
	log       *zap.Logger
	interval  time.Duration
	warnAbove float64
	read      func() (float64, error)

	temperature *broker.Topic[adc.Measurement]
	warning     *broker.Topic[bool]
}

// New registers the temperature topics. In demo mode the sensor is a slow
// synthetic sawtooth around a plausible SoC temperature.
func New(b *broker.Broker, cfg *config.Config, log *zap.Logger) *Temperatures {
	t := &Temperatures{
		log:         log,
		interval:    cfg.TemperatureInterval(),
		warnAbove:   cfg.Hardware.TemperatureWarn,
		temperature: broker.TopicRO[adc.Measurement](b, "/v1/tac/temperatures/soc"),
		warning:     broker.TopicRO[bool](b, "/v1/tac/temperatures/warning", false),
	}

	if cfg.Hardware.DemoMode {
		start := time.Now()
		t.read = func() (float64, error) {
			// 45°C +/- 10°C over a two minute period.
			phase := time.Since(start).Seconds() / 120 * 2 * math.Pi
			return 45 + 10*math.Sin(phase), nil
		}
	} else {
		path := cfg.Hardware.HwmonPath
		t.read = func() (float64, error) { return readHwmon(path) }
	}
	return t
}

// Run polls the sensor until the context is cancelled.
func (t *Temperatures) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			t.poll(now)
		}
	}
}

func (t *Temperatures) poll(now time.Time) {
	val, err := t.read()
	if err != nil {
		t.log.Warn("temperature read failed", zap.Error(err))
		return
	}

	t.temperature.Set(adc.Measurement{Timestamp: now, Value: val})

	t.warning.Modify(func(warn bool, ok bool) (bool, bool) {
		switch {
		case !warn && val >= t.warnAbove:
			t.log.Warn("SoC temperature high", zap.Float64("celsius", val))
			return true, true
		case warn && val <= t.warnAbove-warnHysteresis:
			t.log.Info("SoC temperature back to normal", zap.Float64("celsius", val))
			return false, true
		default:
			return warn, false
		}
	})
}

// readHwmon parses a sysfs hwmon input file (millidegree celsius).
func readHwmon(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("temperatures: read %s: %w", path, err)
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("temperatures: parse %s: %w", path, err)
	}
	return milli / 1000, nil
}
