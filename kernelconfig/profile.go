// Package kernelconfig loads the optional YAML configuration profile of
// spec.md §6 ("Configuration profiles"): a declarative override pinning
// kernel variants per op, per layer range, per device family. Absent a
// profile, gpu/dispatch falls through to capability-driven auto-selection.
//
// Uses gopkg.in/yaml.v3, a teacher dependency (envconfig/app config in the
// teacher already round-trips through yaml.v3 for its own settings files).
package kernelconfig

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pin pins one op, over an inclusive layer range, on one device family, to
// a specific shader variant name.
type Pin struct {
	Op          string `yaml:"op"`
	LayerMin    int    `yaml:"layer_min"`
	LayerMax    int    `yaml:"layer_max"`
	DeviceMatch string `yaml:"device,omitempty"` // substring match against Capability.Fingerprint; empty matches any
	Variant     string `yaml:"variant"`
}

// Profile is the parsed configuration file.
type Profile struct {
	Pins []Pin `yaml:"pins"`
}

// Load parses a YAML profile from path. A missing file is not an error at
// this layer (callers typically treat "no profile configured" the same as
// "profile file absent"); Load only returns an error for a file that
// exists but cannot be read or fails to parse.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("kernelconfig: read %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("kernelconfig: parse %s: %w", path, err)
	}
	return &p, nil
}

// Pin looks up a pinned variant for op at layer on a device whose
// fingerprint contains deviceFingerprint (substring match, since fingerprints
// often carry driver version suffixes a profile shouldn't need to enumerate
// exactly).
func (p *Profile) Pin(op string, layer int, deviceFingerprint string) (string, bool) {
	if p == nil {
		return "", false
	}
	for _, pin := range p.Pins {
		if pin.Op != op {
			continue
		}
		if layer < pin.LayerMin || layer > pin.LayerMax {
			continue
		}
		if pin.DeviceMatch != "" && !strings.Contains(deviceFingerprint, pin.DeviceMatch) {
			continue
		}
		return pin.Variant, true
	}
	return "", false
}
