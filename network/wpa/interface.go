package wpa

import (
	"github.com/go-errors/errors"
	"github.com/godbus/dbus/v5"
)

type Interface struct {
	wpa *Wpa
	obj dbus.BusObject
}

func (i *Interface) String() string {
	return string(i.obj.Path())
}

// AddNetwork adds a network block with the given wpa_supplicant properties,
// e.g. ssid, psk and key_mgmt.
func (i *Interface) AddNetwork(args map[string]interface{}) (*Network, error) {
	call := i.obj.Call(ifaceName+".AddNetwork", 0, args)
	if call.Err != nil {
		return nil, errors.Errorf("could not add network: %v", call.Err)
	}

	var objPath dbus.ObjectPath
	if err := call.Store(&objPath); err != nil {
		return nil, errors.Errorf("could not store value: %v", err)
	}

	return &Network{
		obj: i.wpa.conn.Object(service, objPath),
	}, nil
}

func (i *Interface) SelectNetwork(net *Network) error {
	call := i.obj.Call(ifaceName+".SelectNetwork", 0, net.obj.Path())
	if call.Err != nil {
		return errors.Errorf("could not select network: %v", call.Err)
	}

	return nil
}

func (i *Interface) RemoveAllNetworks() error {
	call := i.obj.Call(ifaceName+".RemoveAllNetworks", 0)
	if call.Err != nil {
		return errors.Errorf("could not remove all networks: %v", call.Err)
	}

	return nil
}

func (i *Interface) Disconnect() error {
	call := i.obj.Call(ifaceName+".Disconnect", 0)
	if call.Err != nil {
		return errors.Errorf("could not disconnect: %v", call.Err)
	}

	return nil
}

// State returns the supplicant state of the interface, e.g. "completed".
func (i *Interface) State() (string, error) {
	v, err := i.obj.GetProperty(ifaceName + ".State")
	if err != nil {
		return "", errors.Errorf("could not get state: %v", err)
	}

	state, ok := v.Value().(string)
	if !ok {
		return "", errors.Errorf("could not convert state: %v", v)
	}

	return state, nil
}
