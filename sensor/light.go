package sensor

import (
	"context"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-errors/errors"
)

const (
	defaultMaxRaw = 4095
	// resistance of the fixed divider resistor in kΩ
	dividerKiloOhm = 10.0
)

type LightConfig struct {
	Name string
	// Device is the IIO raw value file of the ADC channel the photoresistor
	// divider is wired to, e.g. /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
	Device  string
	MaxRaw  int
	Channel *Channel
}

// LightSensor reads a GL5528 photoresistor through an ADC channel.
type LightSensor struct {
	name    string
	device  string
	maxRaw  int
	channel Channel
}

var _ Sensor = (*LightSensor)(nil)

func NewLightSensor(config *LightConfig) *LightSensor {
	l := &LightSensor{
		name:    config.Name,
		device:  config.Device,
		maxRaw:  config.MaxRaw,
		channel: LightChannel,
	}

	if l.name == "" {
		l.name = "light"
	}

	if l.maxRaw <= 0 {
		l.maxRaw = defaultMaxRaw
	}

	if config.Channel != nil {
		l.channel = *config.Channel
	}

	return l
}

func (l *LightSensor) Name() string {
	return l.name
}

func (l *LightSensor) Channels() []Channel {
	return []Channel{l.channel}
}

func (l *LightSensor) Read(ctx context.Context) ([]Reading, error) {
	data, err := os.ReadFile(l.device)
	if err != nil {
		return nil, errors.Errorf("could not read %v: %v: %w", l.device, err, ErrRead)
	}

	raw, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, errors.Errorf("could not parse adc value %q: %w", data, ErrRead)
	}

	return []Reading{{Channel: l.channel, Value: Flux(raw, l.maxRaw)}}, nil
}

// Flux converts a raw ADC value of the photoresistor divider into lux.
func Flux(raw int, maxRaw int) float64 {
	if raw <= 0 {
		return 0
	}
	if raw >= maxRaw {
		raw = maxRaw - 1
	}

	resistance := float64(maxRaw-raw) * dividerKiloOhm / float64(raw)

	return 325 * math.Pow(resistance, -1.4)
}
