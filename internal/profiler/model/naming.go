package model

import (
	"fmt"
	"strings"
)

// BuildDeviceName returns the display name of a device: "{manufacturer} {model}".
// A trailing "-{serial}" is dropped from the model, as is a manufacturer
// prefix the model already carries. An empty manufacturer is omitted.
func BuildDeviceName(d Device) string {
	manufacturer, model := deviceNameParts(d)
	switch {
	case manufacturer == "":
		return model
	case model == "":
		return manufacturer
	default:
		return manufacturer + " " + model
	}
}

func deviceNameParts(d Device) (manufacturer, model string) {
	model = strings.TrimSuffix(d.Model, "-"+d.Serial)
	manufacturer = strings.TrimSpace(d.Manufacturer)
	if hasWordPrefix(model, manufacturer) {
		model = strings.TrimSpace(model[len(manufacturer):])
	}
	return manufacturer, model
}

func hasWordPrefix(s, prefix string) bool {
	if prefix == "" || len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return false
	}
	return len(s) == len(prefix) || s[len(prefix)] == ' '
}

// BuildSessionName returns "{processName} ({device name})".
func BuildSessionName(d Device, p Process) string {
	return fmt.Sprintf("%s (%s)", p.Name, BuildDeviceName(d))
}

// ParseSessionName splits a name produced by BuildSessionName. When the device
// part matches the name of one of known, that device's manufacturer and model
// are returned. Otherwise the device part is split at its first space, which
// cannot tell a manufacturer from a model that contains spaces.
func ParseSessionName(name string, known ...Device) (process, manufacturer, model string, err error) {
	open := strings.LastIndex(name, " (")
	if open < 0 || !strings.HasSuffix(name, ")") {
		return "", "", "", fmt.Errorf("malformed session name %q", name)
	}

	process = name[:open]
	device := name[open+2 : len(name)-1]
	for _, d := range known {
		if BuildDeviceName(d) == device {
			manufacturer, model = deviceNameParts(d)
			return process, manufacturer, model, nil
		}
	}
	if before, after, ok := strings.Cut(device, " "); ok {
		return process, before, after, nil
	}
	return process, "", device, nil
}
