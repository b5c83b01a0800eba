package network

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-errors/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore map[string]string

func (m memoryStore) Exists(key string) bool {
	_, ok := m[key]
	return ok
}

func (m memoryStore) Get(key string) (string, error) {
	value, ok := m[key]
	if !ok {
		return "", errors.Errorf("no value for %v", key)
	}
	return value, nil
}

type statusRecorder struct {
	mu       sync.Mutex
	kind     string
	statuses []string
}

func (r *statusRecorder) SetNetworkKind(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kind = kind
}

func (r *statusRecorder) SetNetworkStatus(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *statusRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

var defaultCredentials = Credentials{
	SSID:       "factory",
	Passphrase: "factory-pass",
	Security:   SecurityWPA2,
}

func TestCredentialPrecedence(t *testing.T) {
	for mask := 0; mask < 8; mask++ {
		hasSSID := mask&1 != 0
		hasPass := mask&2 != 0
		hasSecurity := mask&4 != 0

		t.Run(fmt.Sprintf("ssid=%v,pass=%v,security=%v", hasSSID, hasPass, hasSecurity), func(t *testing.T) {
			store := memoryStore{}
			expected := defaultCredentials

			if hasSSID {
				store[KeySSID] = "home"
				expected.SSID = "home"
			}
			if hasPass {
				store[KeyPass] = "secret"
				expected.Passphrase = "secret"
			}
			if hasSecurity {
				store[KeySecurity] = "WPA/WPA2"
				expected.Security = SecurityWPAWPA2
			}

			transport := &MockTransport{}
			session := NewSession(&Config{
				Transport: transport,
				Store:     store,
				Defaults:  defaultCredentials,
			})

			require.NoError(t, session.Connect(context.Background()))

			assert.Equal(t, []Credentials{expected}, transport.Received())
			assert.Equal(t, expected, session.Credentials())
		})
	}
}

func TestUnknownPersistedSecurityFallsBackToNone(t *testing.T) {
	transport := &MockTransport{}
	session := NewSession(&Config{
		Transport: transport,
		Store:     memoryStore{KeySecurity: "WPA3-SAE"},
		Defaults:  defaultCredentials,
	})

	require.NoError(t, session.Connect(context.Background()))

	assert.Equal(t, SecurityNone, transport.Received()[0].Security)
}

func TestConnectWithoutStoreUsesDefaults(t *testing.T) {
	transport := &MockTransport{}
	session := NewSession(&Config{
		Transport: transport,
		Defaults:  defaultCredentials,
	})

	require.NoError(t, session.Connect(context.Background()))

	assert.Equal(t, []Credentials{defaultCredentials}, transport.Received())
}

func TestConnectRetriesWithFixedInterval(t *testing.T) {
	const interval = 20 * time.Millisecond

	var (
		mu       sync.Mutex
		attempts []time.Time
		errs     []error
	)

	display := &statusRecorder{}
	transport := &MockTransport{Failures: 2}

	session := NewSession(&Config{
		Transport:     transport,
		Display:       display,
		RetryInterval: interval,
		OnAttempt: func(attempt int, err error) {
			mu.Lock()
			defer mu.Unlock()
			attempts = append(attempts, time.Now())
			errs = append(errs, err)
		},
	})

	require.NoError(t, session.Connect(context.Background()))

	assert.Equal(t, Connected, session.State())
	assert.Equal(t, 3, session.Attempts())
	assert.True(t, transport.Connected())

	require.Len(t, attempts, 3)
	for i := 1; i < len(attempts); i++ {
		assert.GreaterOrEqual(t, attempts[i].Sub(attempts[i-1]), interval)
	}

	assert.True(t, errors.Is(errs[0], ErrConnect))
	assert.True(t, errors.Is(errs[1], ErrConnect))
	assert.NoError(t, errs[2])

	assert.Equal(t, string(Mock), display.kind)
	assert.Equal(t, []string{
		StatusInProgress, StatusFailed,
		StatusInProgress, StatusFailed,
		StatusInProgress, StatusConnected,
	}, display.all())
}

func TestConnectStopsWhenContextIsDone(t *testing.T) {
	session := NewSession(&Config{
		Transport:     &MockTransport{Failures: 1 << 30},
		RetryInterval: time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := session.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, Disconnected, session.State())
	assert.Greater(t, session.Attempts(), 1)
}

func TestDisconnectAbortsConnectLoop(t *testing.T) {
	session := NewSession(&Config{
		Transport:     &MockTransport{Failures: 1 << 30},
		RetryInterval: time.Millisecond,
	})

	done := make(chan error, 1)
	go func() {
		done <- session.Connect(context.Background())
	}()

	require.Eventually(t, func() bool {
		return session.Attempts() > 2
	}, time.Second, time.Millisecond)

	require.NoError(t, session.Disconnect())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("connect loop did not stop")
	}

	assert.Equal(t, Disconnected, session.State())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	transport := &MockTransport{}
	session := NewSession(&Config{Transport: transport})

	require.NoError(t, session.Disconnect())
	assert.Equal(t, 0, transport.Disconnects())

	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.Disconnect())
	require.NoError(t, session.Disconnect())

	assert.Equal(t, 1, transport.Disconnects())
	assert.Equal(t, Disconnected, session.State())
	assert.False(t, transport.Connected())
}

type failingDisconnect struct {
	MockTransport
}

func (f *failingDisconnect) Disconnect() error {
	return errors.New("device busy")
}

func TestDisconnectFailureKeepsState(t *testing.T) {
	session := NewSession(&Config{Transport: &failingDisconnect{}})

	require.NoError(t, session.Connect(context.Background()))

	assert.Error(t, session.Disconnect())
	assert.Equal(t, Connected, session.State())
}

func TestParseSecurity(t *testing.T) {
	cases := map[string]Security{
		"WPA/WPA2": SecurityWPAWPA2,
		"wpa2":     SecurityWPA2,
		"WPA":      SecurityWPA,
		"WEP":      SecurityWEP,
		"NONE":     SecurityNone,
		"OPEN":     SecurityNone,
	}

	for in, expected := range cases {
		security, ok := ParseSecurity(in)
		assert.True(t, ok, in)
		assert.Equal(t, expected, security, in)
	}

	_, ok := ParseSecurity("WPA3")
	assert.False(t, ok)
}

func TestSupplicantArgs(t *testing.T) {
	assert.Equal(t, map[string]interface{}{
		"ssid":     "home",
		"key_mgmt": "WPA-PSK",
		"proto":    "RSN",
		"psk":      "secret",
	}, supplicantArgs(Credentials{SSID: "home", Passphrase: "secret", Security: SecurityWPA2}))

	assert.Equal(t, map[string]interface{}{
		"ssid":     "cafe",
		"key_mgmt": "NONE",
	}, supplicantArgs(Credentials{SSID: "cafe", Passphrase: "ignored"}))
}

func TestCredentialsStringHidesPassphrase(t *testing.T) {
	assert.NotContains(t, defaultCredentials.String(), "factory-pass")
}
