package sensor

import (
	"io"
	"os"
	"time"

	"github.com/go-errors/errors"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	DriverLight = "gl5528"
	DriverAHT20 = "aht20"
	DriverMock  = "mock"

	defaultLightDevice = "/sys/bus/iio/devices/iio:device0/in_voltage0_raw"
)

// Definition is one entry of the sensor configuration file.
type Definition struct {
	Name     string        `yaml:"name"`
	Driver   string        `yaml:"driver"`
	Interval time.Duration `yaml:"interval"`
	// Device is the ADC value file for analog sensors.
	Device string `yaml:"device"`
	// Bus and Address select an I²C device.
	Bus     string `yaml:"bus"`
	Address uint16 `yaml:"address"`
	// Channels lists the quantities a mock sensor produces.
	Channels []string `yaml:"channels"`
	// Resources overrides the resource path per quantity.
	Resources map[string]string `yaml:"resources"`
}

type definitionFile struct {
	Sensors []Definition `yaml:"sensors"`
}

// DefaultDefinitions returns the reference sensor set: a photoresistor and a
// combined temperature/humidity sensor.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:   "light",
			Driver: DriverLight,
			Device: defaultLightDevice,
		},
		{
			Name:   "climate",
			Driver: DriverAHT20,
		},
	}
}

// LoadDefinitions reads a YAML sensor configuration file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("could not read sensor config: %v", err)
	}

	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Errorf("could not parse sensor config: %v", err)
	}

	seen := make(map[string]bool)
	for i, def := range file.Sensors {
		if def.Name == "" {
			return nil, errors.Errorf("sensor #%d has no name", i)
		}
		if seen[def.Name] {
			return nil, errors.Errorf("sensor %v defined twice", def.Name)
		}
		seen[def.Name] = true
	}

	return file.Sensors, nil
}

// Open creates the sensor described by the definition. The returned closer
// releases the underlying bus, if any.
func (d Definition) Open() (Sensor, io.Closer, error) {
	switch d.Driver {
	case DriverLight:
		device := d.Device
		if device == "" {
			device = defaultLightDevice
		}

		light := d.channel("light", LightChannel)

		return NewLightSensor(&LightConfig{
			Name:    d.Name,
			Device:  device,
			Channel: &light,
		}), nopCloser{}, nil

	case DriverAHT20:
		if _, err := host.Init(); err != nil {
			return nil, nil, errors.Errorf("could not initialize host drivers: %v", err)
		}

		bus, err := i2creg.Open(d.Bus)
		if err != nil {
			return nil, nil, errors.Errorf("could not open i2c bus %q: %v", d.Bus, err)
		}

		temperature := d.channel("temperature", TemperatureChannel)
		humidity := d.channel("humidity", HumidityChannel)

		return NewAHT20(&AHT20Config{
			Name:        d.Name,
			Bus:         bus,
			Address:     d.Address,
			Temperature: &temperature,
			Humidity:    &humidity,
		}), bus, nil

	case DriverMock:
		var channels []Channel
		for _, quantity := range d.Channels {
			channel, ok := knownChannels[quantity]
			if !ok {
				return nil, nil, errors.Errorf("unknown quantity %q for sensor %v", quantity, d.Name)
			}
			channels = append(channels, d.channel(quantity, channel))
		}

		return NewMockSensor(d.Name, time.Now().UnixNano(), channels...), nopCloser{}, nil

	default:
		return nil, nil, errors.Errorf("unknown sensor driver %q", d.Driver)
	}
}

// Mock returns a copy of the definition backed by the mock driver with the
// quantities the real driver would produce.
func (d Definition) Mock() Definition {
	mock := d
	mock.Driver = DriverMock

	switch d.Driver {
	case DriverLight:
		mock.Channels = []string{"light"}
	case DriverAHT20:
		mock.Channels = []string{"temperature", "humidity"}
	}

	return mock
}

var knownChannels = map[string]Channel{
	"light":       LightChannel,
	"temperature": TemperatureChannel,
	"humidity":    HumidityChannel,
}

func (d Definition) channel(quantity string, channel Channel) Channel {
	if path, ok := d.Resources[quantity]; ok && path != "" {
		channel.Path = path
	}
	return channel
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
