package sensor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-errors/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	values map[string][]string
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{values: make(map[string][]string)}
}

func (p *recordingPublisher) SetValue(path string, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[path] = append(p.values[path], value)
	return nil
}

func (p *recordingPublisher) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.values[path])
}

type recordingDisplay struct {
	mu     sync.Mutex
	values map[string]string
}

func (d *recordingDisplay) SetSensorValue(label string, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.values == nil {
		d.values = make(map[string]string)
	}
	d.values[label] = value
}

type stubSensor struct {
	name    string
	channel Channel
	value   float64
	err     error

	// gate blocks Read until closed, when set
	gate  chan struct{}
	reads chan struct{}
}

func (s *stubSensor) Name() string        { return s.name }
func (s *stubSensor) Channels() []Channel { return []Channel{s.channel} }

func (s *stubSensor) Read(ctx context.Context) ([]Reading, error) {
	if s.reads != nil {
		select {
		case s.reads <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	return []Reading{{Channel: s.channel, Value: s.value}}, nil
}

func newTestSupervisor(publisher Publisher) *Supervisor {
	return NewSupervisor(&Config{
		Publisher: publisher,
		Display:   &recordingDisplay{},
		Interval:  5 * time.Millisecond,
	})
}

func TestSupervisorPublishesReadings(t *testing.T) {
	publisher := newRecordingPublisher()
	display := &recordingDisplay{}
	s := NewSupervisor(&Config{
		Publisher: publisher,
		Display:   display,
		Interval:  5 * time.Millisecond,
	})

	err := s.StartAll([]Spec{
		{Sensor: &stubSensor{name: "temp", channel: TemperatureChannel, value: 21.26}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return publisher.count(TemperatureChannel.Path) >= 2
	}, time.Second, time.Millisecond)

	require.NoError(t, s.StopAll(context.Background()))

	publisher.mu.Lock()
	assert.Equal(t, "21.3", publisher.values[TemperatureChannel.Path][0])
	publisher.mu.Unlock()

	display.mu.Lock()
	assert.Equal(t, "21.3", display.values["Temp"])
	display.mu.Unlock()
}

func TestSupervisorReadFailureIsIsolated(t *testing.T) {
	publisher := newRecordingPublisher()
	s := newTestSupervisor(publisher)

	err := s.StartAll([]Spec{
		{Sensor: &stubSensor{name: "broken", channel: LightChannel, err: ErrRead}},
		{Sensor: &stubSensor{name: "humidity", channel: HumidityChannel, value: 40}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return publisher.count(HumidityChannel.Path) >= 3
	}, time.Second, time.Millisecond)

	assert.Equal(t, 0, publisher.count(LightChannel.Path))
	assert.Equal(t, 2, s.Running())

	require.NoError(t, s.StopAll(context.Background()))
}

func TestSupervisorStopAllReachesZeroRunning(t *testing.T) {
	publisher := newRecordingPublisher()
	s := newTestSupervisor(publisher)

	require.NoError(t, s.StartAll([]Spec{
		{Sensor: &stubSensor{name: "light", channel: LightChannel, value: 1}},
		{Sensor: &stubSensor{name: "temp", channel: TemperatureChannel, value: 2}},
	}))

	assert.Equal(t, 2, s.Running())
	assert.Len(t, s.Tasks(), 2)

	require.NoError(t, s.StopAll(context.Background()))

	assert.Equal(t, 0, s.Running())
	assert.Empty(t, s.Tasks())

	light := publisher.count(LightChannel.Path)
	temp := publisher.count(TemperatureChannel.Path)

	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, light, publisher.count(LightChannel.Path))
	assert.Equal(t, temp, publisher.count(TemperatureChannel.Path))
	assert.NoError(t, s.Wait())
}

func TestSupervisorStopWaitsForReadInFlight(t *testing.T) {
	publisher := newRecordingPublisher()
	s := newTestSupervisor(publisher)

	gate := make(chan struct{})
	reads := make(chan struct{}, 1)
	slow := &stubSensor{name: "slow", channel: LightChannel, value: 3, gate: gate, reads: reads}

	require.NoError(t, s.StartAll([]Spec{{Sensor: slow}}))

	select {
	case <-reads:
	case <-time.After(time.Second):
		t.Fatal("sensor was never read")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.StopAll(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStopTimeout))
	assert.Equal(t, []TaskInfo{{Name: "slow", State: Terminating}}, s.Tasks())

	close(gate)

	require.NoError(t, s.StopAll(context.Background()))

	// the reading finished after the stop request and is not published
	assert.Equal(t, 0, publisher.count(LightChannel.Path))
	assert.Empty(t, s.Tasks())
}

func TestSupervisorRejectsDuplicateNames(t *testing.T) {
	s := newTestSupervisor(newRecordingPublisher())

	require.NoError(t, s.StartAll([]Spec{
		{Sensor: &stubSensor{name: "light", channel: LightChannel}},
	}))
	defer s.StopAll(context.Background())

	err := s.StartAll([]Spec{
		{Sensor: &stubSensor{name: "light", channel: LightChannel}},
	})
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
	assert.Equal(t, 1, s.Running())
}

func TestStopAllWithoutTasks(t *testing.T) {
	s := newTestSupervisor(newRecordingPublisher())

	assert.NoError(t, s.StopAll(context.Background()))
}
