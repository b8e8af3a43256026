package device

import (
	"fmt"
	"strings"
)

const (
	sigBasePrefix = "0000"
	sigBaseSuffix = "00001000800000805f9b34fb"
)

// Nordic UART service and its characteristics.
const (
	UARTServiceUUID = "6e400001b5a3f393e0a9e50e24dcca9e"
	UARTRXCharUUID  = "6e400002b5a3f393e0a9e50e24dcca9e" // write
	UARTTXCharUUID  = "6e400003b5a3f393e0a9e50e24dcca9e" // notify
)

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Braces and a 0x prefix are stripped. Full 128-bit UUIDs in Bluetooth SIG base format
// (0000xxxx-0000-1000-8000-00805f9b34fb) are shortened to the 16-bit form (xxxx).
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "{")
	u = strings.TrimSuffix(u, "}")
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, sigBasePrefix) && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format.
func NormalizeUUIDs(uuids []string) []string {
	if uuids == nil {
		return nil
	}
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// ExpandUUID returns the dashed 128-bit form of a normalized UUID, which is what
// most platform APIs expect. Invalid input is returned unchanged.
func ExpandUUID(uuid string) string {
	u := NormalizeUUID(uuid)
	switch len(u) {
	case 4:
		u = sigBasePrefix + u + sigBaseSuffix
	case 8:
		u = u + sigBaseSuffix
	case 32:
	default:
		return uuid
	}
	return u[0:8] + "-" + u[8:12] + "-" + u[12:16] + "-" + u[16:20] + "-" + u[20:32]
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Returns the first eight characters for long UUIDs and short UUIDs by themselves.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns normalized UUID strings or an error.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		if uuid == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(uuid)
		if !isHex(normalized) {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, uuid)
		}
		switch len(normalized) {
		case 4, 8, 32:
		default:
			return nil, fmt.Errorf("invalid UUID length at index %d: %s", i, uuid)
		}
		result = append(result, normalized)
	}
	return result, nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
