package device

// knownNames maps normalized UUIDs to their assigned names. It only carries what
// a UART-style sensor is likely to expose.
var knownNames = map[string]string{
	UARTServiceUUID: "Nordic UART Service",
	UARTRXCharUUID:  "UART RX",
	UARTTXCharUUID:  "UART TX",

	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"181a": "Environmental Sensing",

	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"2a6e": "Temperature",
	"2a6f": "Humidity",

	"2902": "Client Characteristic Configuration",
}

// LookupName returns the assigned name for uuid, or "" if it is not known.
func LookupName(uuid string) string {
	return knownNames[NormalizeUUID(uuid)]
}

// DisplayName returns the known name of uuid, falling back to its short form.
func DisplayName(uuid string) string {
	if name := LookupName(uuid); name != "" {
		return name
	}
	return ShortenUUID(NormalizeUUID(uuid))
}
