//go:build !linux

package machine

type LinuxConfig struct {
	IndicatorPin string
	Logger       Logger
}

// NewLinuxMachine falls back to the mock machine on other systems.
func NewLinuxMachine(config *LinuxConfig) Machine {
	return NewMockMachine(config.Logger)
}
