//go:build !linux

package network

import "github.com/go-errors/errors"

var errUnsupported = errors.New("network interfaces are only managed on linux")

func setLinkUp(ifname string) error                            { return errUnsupported }
func setLinkDown(ifname string) error                          { return errUnsupported }
func linkReady(ifname string) (bool, error)                    { return false, errUnsupported }
func interfaceAddressInfo(ifname string) (*AddressInfo, error) { return nil, errUnsupported }
