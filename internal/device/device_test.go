package device_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/uartscope/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPowerState_String(t *testing.T) {
	tests := map[device.PowerState]string{
		device.PowerUnknown:      "Unknown",
		device.PowerResetting:    "Resetting",
		device.PowerUnsupported:  "Unsupported",
		device.PowerUnauthorized: "Unauthorized",
		device.PowerOff:          "Powered Off",
		device.PowerOn:           "Powered On",
		device.PowerState(42):    "Unknown",
	}
	for state, expected := range tests {
		assert.Equal(t, expected, state.String())
	}
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "Disconnected", device.Disconnected.String())
	assert.Equal(t, "Connecting", device.Connecting.String())
	assert.Equal(t, "Connected", device.Connected.String())
	assert.Equal(t, "Disconnecting", device.Disconnecting.String())
}

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		err      *device.NotFoundError
		expected string
	}{
		{&device.NotFoundError{Resource: "peripheral"}, "peripheral not found"},
		{&device.NotFoundError{Resource: "service", UUIDs: []string{"180f"}}, `service "180f" not found`},
		{
			&device.NotFoundError{Resource: "characteristic", UUIDs: []string{"180f", "2a19"}},
			`characteristic "2a19" not found in service "180f"`,
		},
	}
	for _, tt := range tests {
		assert.EqualError(t, tt.err, tt.expected)
	}
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name     string
		input    error
		sentinel error
	}{
		{"not connected", errors.New("device not connected"), device.ErrNotConnected},
		{"already connected", errors.New("Device Already Connected"), device.ErrAlreadyConnected},
		{"not initialized", errors.New("connection is not initialized"), device.ErrNotInitialized},
		{"invalid central state", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), device.ErrBluetoothOff},
		{"radio off", errors.New("bluetooth is turned off"), device.ErrBluetoothOff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := device.NormalizeError(tt.input)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Contains(t, err.Error(), tt.input.Error(), "original message MUST be preserved")
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, device.NormalizeError(nil))
	})

	t.Run("unknown errors pass through", func(t *testing.T) {
		orig := errors.New("att: insufficient authentication")
		assert.Same(t, orig, device.NormalizeError(orig))
	})

	t.Run("already structured errors pass through", func(t *testing.T) {
		orig := fmt.Errorf("dial: %w", device.ErrBluetoothOff)
		assert.Same(t, orig, device.NormalizeError(orig))
	})
}

func TestIsConnectionError(t *testing.T) {
	err := fmt.Errorf("subscribe: %w", device.ErrNotConnected)

	assert.True(t, device.IsConnectionError(err, device.NotConnected))
	assert.False(t, device.IsConnectionError(err, device.AlreadyConnected))
	assert.False(t, device.IsConnectionError(errors.New("other"), device.NotConnected))
}

func TestCentralOptions_Validate(t *testing.T) {
	opts := device.CentralOptions{}
	require.ErrorIs(t, opts.Validate(), device.ErrNotInitialized)
}

func TestPeripheralBase(t *testing.T) {
	p := device.NewPeripheralBase("AA:BB:CC:DD:EE:FF", "")

	t.Run("name only grows", func(t *testing.T) {
		assert.Empty(t, p.Name())
		p.SetName("Sensor")
		p.SetName("")
		assert.Equal(t, "Sensor", p.Name())
	})

	t.Run("state swap returns previous", func(t *testing.T) {
		assert.Equal(t, device.Disconnected, p.State())
		assert.Equal(t, device.Disconnected, p.SetState(device.Connecting))
		assert.Equal(t, device.Connecting, p.SetState(device.Connected))
		assert.Equal(t, device.Connected, p.State())
	})

	t.Run("services are keyed by normalized UUID", func(t *testing.T) {
		svc := device.NewService("6E400001-B5A3-F393-E0A9-E50E24DCCA9E", nil, nil)
		p.PutService(device.NewService("180f", nil, nil))
		p.PutService(svc)
		p.PutService(device.NewService(device.UARTServiceUUID, nil, "replacement"))

		services := p.Services()
		require.Len(t, services, 2)
		assert.Equal(t, "180f", services[0].UUID())
		assert.Equal(t, device.UARTServiceUUID, services[1].UUID())
		assert.Equal(t, "Nordic UART Service", services[1].KnownName())

		found, ok := p.FindService("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
		require.True(t, ok)
		assert.Equal(t, "replacement", found.Handle)

		p.ResetGATT()
		assert.Empty(t, p.Services())
	})
}

func TestGATTService_Characteristics(t *testing.T) {
	svc := device.NewService(device.UARTServiceUUID, nil, nil)
	tx := device.NewCharacteristic(device.UARTTXCharUUID, svc, true, nil)
	rx := device.NewCharacteristic(device.UARTRXCharUUID, svc, false, nil)
	svc.PutCharacteristic(tx)
	svc.PutCharacteristic(rx)

	chars := svc.Characteristics()
	require.Len(t, chars, 2)
	assert.Equal(t, device.UARTRXCharUUID, chars[0].UUID())
	assert.Equal(t, device.UARTTXCharUUID, chars[1].UUID())
	assert.Same(t, svc, chars[1].Service())
	assert.True(t, chars[1].CanNotify())
	assert.False(t, chars[0].CanNotify())

	found, ok := svc.FindCharacteristic("6E400003-B5A3-F393-E0A9-E50E24DCCA9E")
	require.True(t, ok)
	assert.Same(t, tx, found)

	assert.False(t, tx.IsNotifying())
	tx.SetNotifying(true)
	assert.True(t, tx.IsNotifying())

	orphan := device.NewCharacteristic("2a19", nil, false, nil)
	assert.Nil(t, orphan.Service())
}
