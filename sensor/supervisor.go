package sensor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"golang.org/x/sync/errgroup"
)

const defaultInterval = 5 * time.Second

var (
	ErrStopTimeout    = errors.New("sensor tasks did not stop in time")
	ErrAlreadyRunning = errors.New("sensor task already running")
)

// Publisher stores the latest text value of a resource.
type Publisher interface {
	SetValue(path string, value string) error
}

// Display shows the latest value per sensor label.
type Display interface {
	SetSensorValue(label string, value string)
}

type TaskState int

const (
	Running TaskState = iota
	Terminating
	Stopped
)

func (s TaskState) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Terminating:
		return "TERMINATING"
	case Stopped:
		return "STOPPED"
	default:
		return "INVALID STATE"
	}
}

// Spec configures one sampling task.
type Spec struct {
	Sensor   Sensor
	Interval time.Duration
}

type Config struct {
	Publisher Publisher
	Display   Display
	Logger    Logger
	// Interval is used for specs that do not carry their own.
	Interval time.Duration
}

// TaskInfo is a snapshot of a task handle.
type TaskInfo struct {
	Name  string
	State TaskState
}

// Supervisor owns the periodic sampling tasks and starts and stops them as
// a unit.
type Supervisor struct {
	publisher Publisher
	display   Display
	log       Logger
	interval  time.Duration

	mu    sync.Mutex
	tasks map[string]*task
	group errgroup.Group
}

type task struct {
	name     string
	sensor   Sensor
	interval time.Duration
	state    TaskState
	stop     chan struct{}
	done     chan struct{}
}

func NewSupervisor(config *Config) *Supervisor {
	s := &Supervisor{
		publisher: config.Publisher,
		display:   config.Display,
		interval:  config.Interval,
		tasks:     make(map[string]*task),
	}

	if config.Logger != nil {
		s.log = config.Logger
	} else {
		s.log = noopLogger{}
	}

	if s.interval <= 0 {
		s.interval = defaultInterval
	}

	return s
}

// StartAll spawns one sampling task per spec. Names must be unique among
// running tasks.
func (s *Supervisor) StartAll(specs []Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, spec := range specs {
		name := spec.Sensor.Name()
		if _, ok := s.tasks[name]; ok {
			return errors.Errorf("sensor %v: %w", name, ErrAlreadyRunning)
		}
	}

	s.log.Infof("Starting all sensors")

	for _, spec := range specs {
		t := &task{
			name:     spec.Sensor.Name(),
			sensor:   spec.Sensor,
			interval: spec.Interval,
			state:    Running,
			stop:     make(chan struct{}),
			done:     make(chan struct{}),
		}

		if t.interval <= 0 {
			t.interval = s.interval
		}

		s.tasks[t.name] = t

		s.group.Go(func() error {
			s.run(t)
			return nil
		})

		s.log.Infof("Started sensor %v with interval %v", t.name, t.interval)
	}

	return nil
}

// StopAll asks every task to terminate and blocks until none of them will
// publish another reading, or until ctx is done.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	var pending []*task
	for _, t := range s.tasks {
		if t.state == Running {
			t.state = Terminating
			close(t.stop)
		}
		pending = append(pending, t)
	}
	s.mu.Unlock()

	s.log.Infof("Stopping all sensors")

	for _, t := range pending {
		select {
		case <-t.done:
		case <-ctx.Done():
			return errors.Errorf("waiting for %v: %w", strings.Join(s.terminating(), ", "), ErrStopTimeout)
		}
	}

	s.log.Infof("Stopped all sensors")

	return nil
}

// Wait blocks until all tasks have returned.
func (s *Supervisor) Wait() error {
	return s.group.Wait()
}

// Running returns the number of tasks that may still publish readings.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.tasks {
		if t.state == Running {
			n++
		}
	}
	return n
}

// Tasks returns a snapshot of the task registry sorted by name.
func (s *Supervisor) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		infos = append(infos, TaskInfo{Name: t.name, State: t.state})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})

	return infos
}

func (s *Supervisor) terminating() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for _, t := range s.tasks {
		if t.state == Terminating {
			names = append(names, t.name)
		}
	}
	sort.Strings(names)

	return names
}

func (s *Supervisor) run(t *task) {
	defer func() {
		s.mu.Lock()
		t.state = Stopped
		delete(s.tasks, t.name)
		s.mu.Unlock()

		close(t.done)
		s.log.Debugf("Sensor %v stopped", t.name)
	}()

	timer := time.NewTimer(t.interval)
	defer timer.Stop()

	for {
		s.sample(t)

		select {
		case <-t.stop:
			return
		case <-timer.C:
			timer.Reset(t.interval)
		}
	}
}

// sample takes one reading. A read in flight is allowed to finish; a stop
// requested meanwhile suppresses the publishing.
func (s *Supervisor) sample(t *task) {
	ctx, cancel := context.WithTimeout(context.Background(), t.interval)
	defer cancel()

	readings, err := t.sensor.Read(ctx)

	select {
	case <-t.stop:
		return
	default:
	}

	if err != nil {
		s.log.Warnf("Could not read sensor %v: %v", t.name, err)
		return
	}

	for _, reading := range readings {
		text := reading.Text()

		s.log.Debugf("Sensor %v: %v = %v", t.name, reading.Channel.Label, text)

		if err := s.publisher.SetValue(reading.Channel.Path, text); err != nil {
			s.log.Errorf("Could not publish %v: %v", reading.Channel.Path, err)
		}

		s.display.SetSensorValue(reading.Channel.Label, text)
	}
}
