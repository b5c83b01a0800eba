package sensor

import (
	"context"
	"fmt"

	"github.com/go-errors/errors"
)

// ErrRead is wrapped by drivers when a single sample could not be taken.
var ErrRead = errors.New("sensor read failed")

// Channel describes one value produced by a sensor and where it is published.
type Channel struct {
	// Path is the object/instance/resource triplet, e.g. 3303/0/1.
	Path string
	// Name is the resource name announced to the management service.
	Name string
	// Label is shown on the display.
	Label string
	// Format renders the value as text.
	Format string
}

type Reading struct {
	Channel Channel
	Value   float64
}

func (r Reading) Text() string {
	format := r.Channel.Format
	if format == "" {
		format = "%.2f"
	}
	return fmt.Sprintf(format, r.Value)
}

type Sensor interface {
	Name() string
	Channels() []Channel
	Read(ctx context.Context) ([]Reading, error)
}

var (
	LightChannel = Channel{
		Path:   "3301/0/1",
		Name:   "light_resource",
		Label:  "Light",
		Format: "%.2f",
	}
	TemperatureChannel = Channel{
		Path:   "3303/0/1",
		Name:   "temperature_resource",
		Label:  "Temp",
		Format: "%.1f",
	}
	HumidityChannel = Channel{
		Path:   "3304/0/1",
		Name:   "humidity_resource",
		Label:  "Humidity",
		Format: "%.0f",
	}
)
