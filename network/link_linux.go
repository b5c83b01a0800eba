package network

import (
	"net"

	"github.com/go-errors/errors"
	"github.com/vishvananda/netlink"
)

func setLinkUp(ifname string) error {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return errors.Errorf("could not find interface %v: %v", ifname, err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return errors.Errorf("could not set %v up: %v", ifname, err)
	}

	return nil
}

func setLinkDown(ifname string) error {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return errors.Errorf("could not find interface %v: %v", ifname, err)
	}

	if err := netlink.LinkSetDown(link); err != nil {
		return errors.Errorf("could not set %v down: %v", ifname, err)
	}

	return nil
}

// linkReady reports whether the interface is operationally up and holds an
// IPv4 address.
func linkReady(ifname string) (bool, error) {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return false, errors.Errorf("could not find interface %v: %v", ifname, err)
	}

	state := link.Attrs().OperState
	if state != netlink.OperUp && state != netlink.OperUnknown {
		return false, nil
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return false, errors.Errorf("could not list addresses of %v: %v", ifname, err)
	}

	return len(addrs) > 0, nil
}

func interfaceAddressInfo(ifname string) (*AddressInfo, error) {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return nil, errors.Errorf("could not find interface %v: %v", ifname, err)
	}

	info := &AddressInfo{
		Interface: ifname,
		MAC:       link.Attrs().HardwareAddr,
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, errors.Errorf("could not list addresses of %v: %v", ifname, err)
	}

	if len(addrs) > 0 && addrs[0].IPNet != nil {
		info.IP = addrs[0].IP
		info.Netmask = addrs[0].Mask
	}

	routes, err := netlink.RouteList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, errors.Errorf("could not list routes of %v: %v", ifname, err)
	}

	for _, route := range routes {
		if route.Gw != nil && isDefaultRoute(route.Dst) {
			info.Gateway = route.Gw
			break
		}
	}

	return info, nil
}

func isDefaultRoute(dst *net.IPNet) bool {
	if dst == nil {
		return true
	}

	ones, _ := dst.Mask.Size()

	return ones == 0 && dst.IP.IsUnspecified()
}
