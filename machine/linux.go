//go:build linux

package machine

import (
	"github.com/go-errors/errors"
	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

type LinuxConfig struct {
	// IndicatorPin names the GPIO of the failure LED, e.g. GPIO17. Empty
	// disables the indicator.
	IndicatorPin string
	// Indicator is used instead of looking up IndicatorPin when set.
	Indicator gpio.PinOut
	Logger    Logger
}

// LinuxMachine reboots through the reboot(2) system call.
type LinuxMachine struct {
	indicatorPin string
	indicator    gpio.PinOut
	log          Logger
}

var _ Machine = (*LinuxMachine)(nil)

func NewLinuxMachine(config *LinuxConfig) *LinuxMachine {
	m := &LinuxMachine{
		indicatorPin: config.IndicatorPin,
		indicator:    config.Indicator,
	}

	if config.Logger != nil {
		m.log = config.Logger
	} else {
		m.log = noopLogger{}
	}

	return m
}

func (m *LinuxMachine) Start() error {
	if m.indicator != nil {
		return m.indicator.Out(gpio.Low)
	}

	if m.indicatorPin == "" {
		return nil
	}

	if _, err := host.Init(); err != nil {
		return errors.Errorf("could not initialize host drivers: %v", err)
	}

	pin := gpioreg.ByName(m.indicatorPin)
	if pin == nil {
		return errors.Errorf("could not find indicator pin %v", m.indicatorPin)
	}

	if err := pin.Out(gpio.Low); err != nil {
		return errors.Errorf("could not drive indicator pin %v: %v", m.indicatorPin, err)
	}

	m.indicator = pin

	return nil
}

func (m *LinuxMachine) Stop() error {
	if m.indicator == nil {
		return nil
	}

	return m.indicator.Out(gpio.Low)
}

func (m *LinuxMachine) Reboot() error {
	m.log.Infof("Rebooting")

	unix.Sync()

	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		return errors.Errorf("could not reboot: %v", err)
	}

	return nil
}

func (m *LinuxMachine) SetFailureIndicator(on bool) {
	if m.indicator == nil {
		return
	}

	if err := m.indicator.Out(gpio.Level(on)); err != nil {
		m.log.Errorf("Could not set failure indicator: %v", err)
	}
}
