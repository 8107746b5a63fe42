package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Family is one of the supported AprilTag families. The zero value is
// NoFamily, which a loaded config never carries.
type Family int

const (
	NoFamily Family = iota
	Tag16H5
	Tag25H9
	Tag36H11
	TagCircle21H7
	TagCircle49H12
	TagStandard41H12
	TagStandard52H13
	TagCustom48H12
)

var familyNames = [...]string{
	NoFamily:         "",
	Tag16H5:          "tag16h5",
	Tag25H9:          "tag25h9",
	Tag36H11:         "tag36h11",
	TagCircle21H7:    "tagCircle21h7",
	TagCircle49H12:   "tagCircle49h12",
	TagStandard41H12: "tagStandard41h12",
	TagStandard52H13: "tagStandard52h13",
	TagCustom48H12:   "tagCustom48h12",
}

// String returns the detector library name of the family, e.g. "tag36h11".
func (f Family) String() string {
	if f == NoFamily {
		return "none"
	}
	if f < 0 || int(f) >= len(familyNames) {
		return fmt.Sprintf("Family(%d)", int(f))
	}
	return familyNames[f]
}

// ParseFamily accepts both "Tag36H11" and "tag36h11" spellings.
func ParseFamily(s string) (Family, error) {
	for i, name := range familyNames {
		if Family(i) != NoFamily && strings.EqualFold(name, s) {
			return Family(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown tag family %q", ErrInvalid, s)
}

// UnmarshalYAML decodes a family from its name.
func (f *Family) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	fam, err := ParseFamily(s)
	if err != nil {
		return err
	}
	*f = fam
	return nil
}

// MarshalYAML encodes a family by name.
func (f Family) MarshalYAML() (interface{}, error) {
	return f.String(), nil
}
