package network

import (
	"context"
	"net"
	"sync"

	"github.com/go-errors/errors"
)

// MockTransport simulates a link for development machines and tests. The
// first Failures connection attempts fail.
type MockTransport struct {
	Failures int

	mu          sync.Mutex
	attempts    int
	connected   bool
	credentials []Credentials
	disconnects int
}

var _ Transport = (*MockTransport)(nil)

func (m *MockTransport) Kind() Kind {
	return Mock
}

func (m *MockTransport) Connect(ctx context.Context, credentials Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	m.credentials = append(m.credentials, credentials)

	if m.attempts <= m.Failures {
		return errors.Errorf("simulated failure %d of %d", m.attempts, m.Failures)
	}

	m.connected = true

	return nil
}

func (m *MockTransport) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = false
	m.disconnects++

	return nil
}

func (m *MockTransport) AddressInfo() (*AddressInfo, error) {
	return &AddressInfo{
		Interface: "mock0",
		MAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		IP:        net.IPv4(192, 168, 7, 2),
		Netmask:   net.IPv4Mask(255, 255, 255, 0),
		Gateway:   net.IPv4(192, 168, 7, 1),
	}, nil
}

func (m *MockTransport) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Received returns the credentials of every connection attempt.
func (m *MockTransport) Received() []Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Credentials(nil), m.credentials...)
}

func (m *MockTransport) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}
