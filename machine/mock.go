package machine

import "sync"

// MockMachine only logs and records the requested actions.
type MockMachine struct {
	log Logger

	mu        sync.Mutex
	reboots   int
	indicator bool
}

var _ Machine = (*MockMachine)(nil)

func NewMockMachine(logger Logger) *MockMachine {
	m := &MockMachine{log: logger}

	if m.log == nil {
		m.log = noopLogger{}
	}

	return m
}

func (m *MockMachine) Start() error {
	m.log.Infof("Started mock machine")
	return nil
}

func (m *MockMachine) Stop() error {
	return nil
}

func (m *MockMachine) Reboot() error {
	m.log.Infof("Would reboot now")

	m.mu.Lock()
	m.reboots++
	m.mu.Unlock()

	return nil
}

func (m *MockMachine) SetFailureIndicator(on bool) {
	m.log.Infof("Failure indicator on: %v", on)

	m.mu.Lock()
	m.indicator = on
	m.mu.Unlock()
}

func (m *MockMachine) Reboots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reboots
}

func (m *MockMachine) FailureIndicator() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indicator
}
