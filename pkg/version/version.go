// Package version parses and compares terminal firmware versions.
// Terminals report firmware as "major.minor.patch" at registration; the
// server uses the parsed form for fleet overviews and minimum-firmware
// warnings.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Firmware is a parsed "major.minor.patch" firmware version.
type Firmware struct {
	Major uint16
	Minor uint16
	Patch uint16
}

// Parse parses a firmware version string. A missing patch component is
// treated as zero, since older firmware reports only "major.minor".
func Parse(s string) (Firmware, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Firmware{}, fmt.Errorf("invalid firmware version %q: expected major.minor[.patch]", s)
	}

	nums := make([]uint16, 3)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || p == "" {
			return Firmware{}, fmt.Errorf("invalid firmware version %q: bad component %q", s, p)
		}
		nums[i] = uint16(n)
	}

	return Firmware{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// String returns the version as "major.minor.patch".
func (v Firmware) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 as v is older than, equal to, or newer than
// other.
func (v Firmware) Compare(other Firmware) int {
	pairs := [][2]uint16{
		{v.Major, other.Major},
		{v.Minor, other.Minor},
		{v.Patch, other.Patch},
	}
	for _, p := range pairs {
		if p[0] < p[1] {
			return -1
		}
		if p[0] > p[1] {
			return 1
		}
	}
	return 0
}

// AtLeast reports whether v is the same version as min or newer.
func (v Firmware) AtLeast(min Firmware) bool {
	return v.Compare(min) >= 0
}
