package adc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Raw-value scale per channel. The iio raw readings are millivolt or
// milliampere counts; published values are volts and amperes.
const rawScale = 1000.0

// sysfsSampler reads raw channel values from the iio sysfs directory,
// one in_voltage_<name>_raw file per channel.
type sysfsSampler struct {
	dir string
}

func (s *sysfsSampler) Sample(name string) (float64, error) {
	path := filepath.Join(s.dir, "in_voltage_"+name+"_raw")
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("adc: read %s: %w", path, err)
	}

	raw, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("adc: parse %s: %w", path, err)
	}
	return raw / rawScale, nil
}
