package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// CurrentVersion is the protocol version this library speaks.
const CurrentVersion = "1.0.0"

// Version is a three-part MAJOR.MINOR.PATCH protocol version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses a MAJOR.MINOR.PATCH string. All three components must
// be present and numeric.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("protocol: version %q is not MAJOR.MINOR.PATCH", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("protocol: version %q has non-numeric component %q", s, p)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// String renders the version back to MAJOR.MINOR.PATCH form.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compatible reports whether two version strings can interoperate. Only the
// MAJOR component matters; MINOR and PATCH are advisory. A string that does
// not parse is compatible with nothing.
func Compatible(a, b string) bool {
	va, err := ParseVersion(a)
	if err != nil {
		return false
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return false
	}
	return va.Major == vb.Major
}
