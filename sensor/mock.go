package sensor

import (
	"context"
	"math/rand"
	"sync"
)

// MockSensor produces random-walk values for development machines.
type MockSensor struct {
	name     string
	channels []Channel

	mu     sync.Mutex
	rand   *rand.Rand
	values []float64
}

var _ Sensor = (*MockSensor)(nil)

func NewMockSensor(name string, seed int64, channels ...Channel) *MockSensor {
	m := &MockSensor{
		name:     name,
		channels: channels,
		rand:     rand.New(rand.NewSource(seed)),
		values:   make([]float64, len(channels)),
	}

	for i, channel := range channels {
		switch channel.Path {
		case TemperatureChannel.Path:
			m.values[i] = 21
		case HumidityChannel.Path:
			m.values[i] = 45
		default:
			m.values[i] = 300
		}
	}

	return m
}

func (m *MockSensor) Name() string {
	return m.name
}

func (m *MockSensor) Channels() []Channel {
	return m.channels
}

func (m *MockSensor) Read(ctx context.Context) ([]Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	readings := make([]Reading, len(m.channels))
	for i, channel := range m.channels {
		m.values[i] += m.rand.Float64() - 0.5
		if m.values[i] < 0 {
			m.values[i] = 0
		}
		readings[i] = Reading{Channel: channel, Value: m.values[i]}
	}

	return readings, nil
}
