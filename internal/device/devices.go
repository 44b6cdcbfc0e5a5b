package device

import (
	"bufio"
	"strings"
)

// DeviceEntry is one line of `adb devices -l` or `fastboot devices`.
type DeviceEntry struct {
	Serial      string `json:"serial"`
	State       string `json:"state"`
	Product     string `json:"product,omitempty"`
	Model       string `json:"model,omitempty"`
	Device      string `json:"device,omitempty"`
	TransportID string `json:"transport_id,omitempty"`
}

// Online reports whether adb can talk to the device.
func (d DeviceEntry) Online() bool {
	return d.State == "device"
}

// ParseDevices parses device listings, skipping headers and daemon chatter.
func ParseDevices(output string) []DeviceEntry {
	var devices []DeviceEntry
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "List of devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		d := DeviceEntry{Serial: fields[0], State: fields[1]}
		for _, f := range fields[2:] {
			k, v, ok := strings.Cut(f, ":")
			if !ok {
				continue
			}
			switch k {
			case "product":
				d.Product = v
			case "model":
				d.Model = v
			case "device":
				d.Device = v
			case "transport_id":
				d.TransportID = v
			}
		}
		devices = append(devices, d)
	}
	return devices
}
