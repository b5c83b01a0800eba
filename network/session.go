package network

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-errors/errors"
)

const defaultRetryInterval = 2 * time.Second

type Config struct {
	Transport Transport
	// Store may be nil, in which case the defaults are used as they are.
	Store    CredentialStore
	Defaults Credentials
	Display  Display
	Logger   Logger
	// RetryInterval is the fixed pause between two connection attempts.
	RetryInterval time.Duration
	// OnAttempt, when set, observes the outcome of every connection attempt.
	OnAttempt func(attempt int, err error)
}

// Session owns the network transport and its connection state.
type Session struct {
	transport     Transport
	store         CredentialStore
	defaults      Credentials
	display       Display
	log           Logger
	retryInterval time.Duration
	onAttempt     func(int, error)

	mu          sync.RWMutex
	state       ConnectionState
	credentials Credentials
	attempts    int
	cancel      context.CancelFunc
}

func NewSession(config *Config) *Session {
	s := &Session{
		transport:     config.Transport,
		store:         config.Store,
		defaults:      config.Defaults,
		display:       config.Display,
		retryInterval: config.RetryInterval,
		onAttempt:     config.OnAttempt,
		state:         Disconnected,
	}

	if config.Logger != nil {
		s.log = config.Logger
	} else {
		s.log = noopLogger{}
	}

	if s.retryInterval <= 0 {
		s.retryInterval = defaultRetryInterval
	}

	if s.display != nil {
		s.display.SetNetworkKind(string(s.transport.Kind()))
	}

	return s
}

// Connect resolves the credentials and keeps attempting to connect with a
// fixed pause between attempts until it succeeds. It only gives up when ctx
// is done or Disconnect is called.
func (s *Session) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	credentials := s.resolveCredentials()

	s.mu.Lock()
	if s.state == Connected {
		s.mu.Unlock()
		return nil
	}
	s.state = Connecting
	s.credentials = credentials
	s.attempts = 0
	s.cancel = cancel
	s.mu.Unlock()

	s.log.Infof("Connecting over %v", s.transport.Kind())

	operation := func() error {
		s.mu.Lock()
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		s.setDisplayStatus(StatusInProgress)
		s.log.Infof("Connection attempt %d to %v", attempt, credentials)

		err := s.transport.Connect(ctx, credentials)
		if err != nil {
			err = errors.Errorf("attempt %d: %v: %w", attempt, err, ErrConnect)
			s.setDisplayStatus(StatusFailed)
		}

		if s.onAttempt != nil {
			s.onAttempt(attempt, err)
		}

		return err
	}

	notify := func(err error, wait time.Duration) {
		s.log.Warnf("Could not connect: %v, retrying in %v", err, wait)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.NewConstantBackOff(s.retryInterval), ctx), notify)

	s.mu.Lock()
	s.cancel = nil
	if err != nil {
		s.state = Disconnected
		s.mu.Unlock()
		s.setDisplayStatus(StatusOffline)
		return errors.Errorf("gave up connecting: %v", err)
	}
	s.state = Connected
	s.mu.Unlock()

	s.setDisplayStatus(StatusConnected)

	if info, err := s.transport.AddressInfo(); err != nil {
		s.log.Warnf("Could not get address info: %v", err)
	} else {
		s.log.Infof("Connected on %v: mac=%v ip=%v netmask=%v gateway=%v",
			info.Interface, info.MAC, info.IP, net.IP(info.Netmask), info.Gateway)
	}

	return nil
}

// Disconnect tears the connection down. It is a no-op when already
// disconnected and aborts a connect loop in progress.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	if s.state == Disconnected {
		s.log.Debugf("Already disconnected")
		return nil
	}

	s.log.Infof("Disconnecting %v", s.transport.Kind())

	if err := s.transport.Disconnect(); err != nil {
		return errors.Errorf("could not disconnect %v: %v", s.transport.Kind(), err)
	}

	s.state = Disconnected
	s.setDisplayStatus(StatusOffline)

	s.log.Infof("Disconnected")

	return nil
}

func (s *Session) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Attempts returns the number of connection attempts of the last Connect.
func (s *Session) Attempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// Credentials returns the credentials resolved by the last Connect.
func (s *Session) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credentials
}

func (s *Session) Kind() Kind {
	return s.transport.Kind()
}

// resolveCredentials prefers a persisted value over the compiled-in default,
// key by key.
func (s *Session) resolveCredentials() Credentials {
	credentials := s.defaults

	if s.store == nil {
		return credentials
	}

	if ssid, ok := s.lookup(KeySSID); ok {
		credentials.SSID = ssid
	}

	if pass, ok := s.lookup(KeyPass); ok {
		credentials.Passphrase = pass
	}

	if value, ok := s.lookup(KeySecurity); ok {
		security, known := ParseSecurity(value)
		if !known {
			s.log.Warnf("Unknown security mode %q, using %v", value, security)
		}
		credentials.Security = security
	}

	return credentials
}

func (s *Session) lookup(key string) (string, bool) {
	if !s.store.Exists(key) {
		return "", false
	}

	value, err := s.store.Get(key)
	if err != nil {
		s.log.Warnf("Could not read persisted %v, using default: %v", key, err)
		return "", false
	}

	s.log.Debugf("Using persisted %v", key)

	return value, true
}

func (s *Session) setDisplayStatus(status string) {
	if s.display != nil {
		s.display.SetNetworkStatus(status)
	}
}
