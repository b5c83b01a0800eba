// Package wpa talks to wpa_supplicant over its D-Bus interface.
package wpa

import (
	"github.com/go-errors/errors"
	"github.com/godbus/dbus/v5"
)

const (
	service   = "fi.w1.wpa_supplicant1"
	rootPath  = "/fi/w1/wpa_supplicant1"
	ifaceName = "fi.w1.wpa_supplicant1.Interface"
)

// Interface states reported by wpa_supplicant.
const (
	StateCompleted    = "completed"
	StateDisconnected = "disconnected"
	StateInactive     = "inactive"
	StateScanning     = "scanning"
)

type Wpa struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

func New() *Wpa {
	return &Wpa{}
}

// Start opens a private connection to the system bus.
func (w *Wpa) Start() error {
	if w.conn != nil {
		return nil
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return errors.Errorf("could not connect to system bus: %v", err)
	}

	w.conn = conn
	w.obj = conn.Object(service, rootPath)

	return nil
}

func (w *Wpa) Stop() error {
	if w.conn == nil {
		return nil
	}

	err := w.conn.Close()
	w.conn = nil
	w.obj = nil
	if err != nil {
		return errors.Errorf("could not close system bus connection: %v", err)
	}

	return nil
}

// GetInterface returns the interface wpa_supplicant manages for ifname,
// asking it to create one when it does not exist yet.
func (w *Wpa) GetInterface(ifname string) (*Interface, error) {
	if w.conn == nil {
		return nil, errors.New("wpa is not started")
	}

	var path dbus.ObjectPath

	call := w.obj.Call(service+".GetInterface", 0, ifname)
	if call.Err != nil {
		call = w.obj.Call(service+".CreateInterface", 0, map[string]interface{}{
			"Ifname": ifname,
		})
		if call.Err != nil {
			return nil, errors.Errorf("could not get interface %v: %v", ifname, call.Err)
		}
	}

	if err := call.Store(&path); err != nil {
		return nil, errors.Errorf("could not store interface path: %v", err)
	}

	return &Interface{
		wpa: w,
		obj: w.conn.Object(service, path),
	}, nil
}
