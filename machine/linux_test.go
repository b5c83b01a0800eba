//go:build linux

package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestFailureIndicator(t *testing.T) {
	pin := &gpiotest.Pin{N: "LED", L: gpio.High}

	m := NewLinuxMachine(&LinuxConfig{Indicator: pin})

	require.NoError(t, m.Start())
	assert.Equal(t, gpio.Low, pin.Read())

	m.SetFailureIndicator(true)
	assert.Equal(t, gpio.High, pin.Read())

	require.NoError(t, m.Stop())
	assert.Equal(t, gpio.Low, pin.Read())
}

func TestWithoutIndicator(t *testing.T) {
	m := NewLinuxMachine(&LinuxConfig{})

	require.NoError(t, m.Start())
	m.SetFailureIndicator(true)
	assert.NoError(t, m.Stop())
}
