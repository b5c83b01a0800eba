package network

import (
	"context"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/the-lightning-land/fotad/network/wpa"
)

type WirelessConfig struct {
	Interface string
	// AttemptTimeout bounds a single association plus address lease.
	AttemptTimeout time.Duration
	Logger         Logger
}

// WirelessTransport associates through wpa_supplicant and waits for the
// interface to obtain an address.
type WirelessTransport struct {
	ifname         string
	attemptTimeout time.Duration
	log            Logger

	mu    sync.Mutex
	wpa   *wpa.Wpa
	iface *wpa.Interface
}

var _ Transport = (*WirelessTransport)(nil)

func NewWirelessTransport(config *WirelessConfig) *WirelessTransport {
	t := &WirelessTransport{
		ifname:         config.Interface,
		attemptTimeout: config.AttemptTimeout,
		wpa:            wpa.New(),
	}

	if config.Logger != nil {
		t.log = config.Logger
	} else {
		t.log = noopLogger{}
	}

	if t.ifname == "" {
		t.ifname = "wlan0"
	}

	if t.attemptTimeout <= 0 {
		t.attemptTimeout = defaultAttemptTimeout
	}

	return t
}

func (t *WirelessTransport) Kind() Kind {
	return Wireless
}

func (t *WirelessTransport) Connect(ctx context.Context, credentials Credentials) error {
	if credentials.SSID == "" {
		return errors.New("no network name configured")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.wpa.Start(); err != nil {
		return errors.Errorf("could not start wpa: %v", err)
	}

	if t.iface == nil {
		iface, err := t.wpa.GetInterface(t.ifname)
		if err != nil {
			return errors.Errorf("could not find interface %v: %v", t.ifname, err)
		}
		t.iface = iface
	}

	if err := t.iface.RemoveAllNetworks(); err != nil {
		return err
	}

	net, err := t.iface.AddNetwork(supplicantArgs(credentials))
	if err != nil {
		return err
	}

	if err := t.iface.SelectNetwork(net); err != nil {
		return err
	}

	t.log.Debugf("Selected network %v on %v", net, t.ifname)

	err = waitFor(ctx, defaultPollInterval, t.attemptTimeout, func() (bool, error) {
		state, err := t.iface.State()
		if err != nil {
			return false, err
		}
		if state != wpa.StateCompleted {
			return false, nil
		}
		return linkReady(t.ifname)
	})
	if err != nil {
		return errors.Errorf("could not associate with %v: %v", credentials.SSID, err)
	}

	return nil
}

func (t *WirelessTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.iface == nil {
		return nil
	}

	if err := t.iface.Disconnect(); err != nil {
		return err
	}

	if err := t.iface.RemoveAllNetworks(); err != nil {
		t.log.Warnf("Could not remove networks: %v", err)
	}

	t.iface = nil

	return t.wpa.Stop()
}

func (t *WirelessTransport) AddressInfo() (*AddressInfo, error) {
	return interfaceAddressInfo(t.ifname)
}

// supplicantArgs maps credentials onto wpa_supplicant network properties.
func supplicantArgs(credentials Credentials) map[string]interface{} {
	args := map[string]interface{}{
		"ssid": credentials.SSID,
	}

	switch credentials.Security {
	case SecurityNone:
		args["key_mgmt"] = "NONE"
	case SecurityWEP:
		args["key_mgmt"] = "NONE"
		args["wep_key0"] = credentials.Passphrase
		args["auth_alg"] = "OPEN SHARED"
	case SecurityWPA:
		args["key_mgmt"] = "WPA-PSK"
		args["proto"] = "WPA"
		args["psk"] = credentials.Passphrase
	case SecurityWPA2:
		args["key_mgmt"] = "WPA-PSK"
		args["proto"] = "RSN"
		args["psk"] = credentials.Passphrase
	case SecurityWPAWPA2:
		args["key_mgmt"] = "WPA-PSK"
		args["proto"] = "WPA RSN"
		args["psk"] = credentials.Passphrase
	}

	return args
}
