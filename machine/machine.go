// Package machine performs host level actions: rebooting and driving the
// update failure indicator.
package machine

type Machine interface {
	Start() error
	Stop() error
	// Reboot flushes the file systems and restarts the device.
	Reboot() error
	// SetFailureIndicator lights or clears the update failure LED.
	SetFailureIndicator(on bool)
}
