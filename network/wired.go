package network

import (
	"context"
	"time"

	"github.com/go-errors/errors"
)

const (
	defaultPollInterval   = 250 * time.Millisecond
	defaultAttemptTimeout = 30 * time.Second
)

type WiredConfig struct {
	Interface string
	// AttemptTimeout bounds a single connection attempt.
	AttemptTimeout time.Duration
	Logger         Logger
}

// WiredTransport brings an ethernet interface up and waits for an address.
type WiredTransport struct {
	ifname         string
	attemptTimeout time.Duration
	log            Logger
}

var _ Transport = (*WiredTransport)(nil)

func NewWiredTransport(config *WiredConfig) *WiredTransport {
	t := &WiredTransport{
		ifname:         config.Interface,
		attemptTimeout: config.AttemptTimeout,
	}

	if config.Logger != nil {
		t.log = config.Logger
	} else {
		t.log = noopLogger{}
	}

	if t.ifname == "" {
		t.ifname = "eth0"
	}

	if t.attemptTimeout <= 0 {
		t.attemptTimeout = defaultAttemptTimeout
	}

	return t
}

func (t *WiredTransport) Kind() Kind {
	return Wired
}

func (t *WiredTransport) Connect(ctx context.Context, _ Credentials) error {
	if err := setLinkUp(t.ifname); err != nil {
		return err
	}

	t.log.Debugf("Waiting for %v to get an address", t.ifname)

	err := waitFor(ctx, defaultPollInterval, t.attemptTimeout, func() (bool, error) {
		return linkReady(t.ifname)
	})
	if err != nil {
		return errors.Errorf("%v did not come up: %v", t.ifname, err)
	}

	return nil
}

func (t *WiredTransport) Disconnect() error {
	return setLinkDown(t.ifname)
}

func (t *WiredTransport) AddressInfo() (*AddressInfo, error) {
	return interfaceAddressInfo(t.ifname)
}
