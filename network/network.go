package network

import (
	"context"
	"net"
	"strings"

	"github.com/go-errors/errors"
)

// ErrConnect is wrapped by every failed connection attempt.
var ErrConnect = errors.New("network connection failed")

// Keys of the persisted credentials in the credential store.
const (
	KeySSID     = "ssid"
	KeyPass     = "pass"
	KeySecurity = "security"
)

// Kind is the transport technology a session runs on.
type Kind string

const (
	Wireless Kind = "wifi"
	Wired    Kind = "ethernet"
	Mock     Kind = "mock"
)

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return "INVALID STATE"
	}
}

type Security int

const (
	SecurityNone Security = iota
	SecurityWEP
	SecurityWPA
	SecurityWPA2
	SecurityWPAWPA2
)

func (s Security) String() string {
	switch s {
	case SecurityWEP:
		return "WEP"
	case SecurityWPA:
		return "WPA"
	case SecurityWPA2:
		return "WPA2"
	case SecurityWPAWPA2:
		return "WPA/WPA2"
	default:
		return "NONE"
	}
}

// ParseSecurity maps a security mode name to its value. OPEN is an alias
// of NONE.
func ParseSecurity(s string) (Security, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE", "OPEN":
		return SecurityNone, true
	case "WEP":
		return SecurityWEP, true
	case "WPA":
		return SecurityWPA, true
	case "WPA2":
		return SecurityWPA2, true
	case "WPA/WPA2":
		return SecurityWPAWPA2, true
	default:
		return SecurityNone, false
	}
}

type Credentials struct {
	SSID       string
	Passphrase string
	Security   Security
}

// String never reveals the passphrase.
func (c Credentials) String() string {
	return c.SSID + " (" + c.Security.String() + ")"
}

type AddressInfo struct {
	Interface string
	MAC       net.HardwareAddr
	IP        net.IP
	Netmask   net.IPMask
	Gateway   net.IP
}

// Transport is the connectivity capability a session drives. Wired
// transports ignore the credentials.
type Transport interface {
	Kind() Kind
	Connect(ctx context.Context, credentials Credentials) error
	Disconnect() error
	AddressInfo() (*AddressInfo, error)
}

// CredentialStore is the persisted key/value store consulted for credentials
// before the compiled-in defaults.
type CredentialStore interface {
	Exists(key string) bool
	Get(key string) (string, error)
}

// Display status values.
const (
	StatusInProgress = "in progress"
	StatusFailed     = "failed"
	StatusConnected  = "connected"
	StatusOffline    = "offline"
)

type Display interface {
	SetNetworkKind(kind string)
	SetNetworkStatus(status string)
}
