package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/uartscope/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"bluetooth off", fmt.Errorf("scan: %w", device.ErrBluetoothOff), "Bluetooth is turned off; turn it on and try again"},
		{"unsupported", fmt.Errorf("tinygo backend: %w", device.ErrUnsupported), "tinygo backend: unsupported (try another --backend)"},
		{"peripheral not found", &device.NotFoundError{Resource: "peripheral", UUIDs: []string{"AA"}}, `peripheral "AA" not found; is it advertising and in range?`},
		{"service not found", &device.NotFoundError{Resource: "service", UUIDs: []string{"180d"}}, `service "180d" not found`},
		{"connection lost", ErrConnectionLost, "connection lost; the peripheral went out of range or was switched off"},
		{"other", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
