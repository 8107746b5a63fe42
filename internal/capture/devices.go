package capture

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Device is one enumerated video device.
type Device struct {
	Index int
	Path  string
	Name  string
}

var (
	devGlob   = "/dev/video*"
	sysfsRoot = "/sys/class/video4linux"
)

// Devices lists /dev/videoN devices in numeric order.
func Devices() ([]Device, error) {
	paths, err := filepath.Glob(devGlob)
	if err != nil {
		return nil, err
	}

	var out []Device
	for _, p := range paths {
		base := filepath.Base(p)
		idx, err := strconv.Atoi(strings.TrimPrefix(base, "video"))
		if err != nil {
			continue
		}
		name := base
		if raw, err := os.ReadFile(filepath.Join(sysfsRoot, base, "name")); err == nil {
			name = strings.TrimSpace(string(raw))
		}
		out = append(out, Device{Index: idx, Path: p, Name: name})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}
