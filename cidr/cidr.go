package cidr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedCIDR is returned by Normalize for anything that isn't
// "<network>/<prefix>" with a prefix in [0,32].
var ErrMalformedCIDR = errors.New("malformed CIDR")

// Route is a normalized destination block: a network address and the dotted
// netmask derived from the prefix length.
type Route struct {
	Network string
	Mask    string
}

func (r Route) String() string {
	return r.Network + " " + r.Mask
}

// Normalize splits cidr into its network part and a dotted-quad netmask. The
// network part is kept exactly as given; it is not masked against the prefix.
func Normalize(cidr string) (Route, error) {
	parts := strings.Split(cidr, "/")
	if len(parts) != 2 {
		return Route{}, fmt.Errorf("%w: %q", ErrMalformedCIDR, cidr)
	}
	prefix, err := strconv.Atoi(parts[1])
	if err != nil || prefix < 0 || prefix > 32 {
		return Route{}, fmt.Errorf("%w: %q: bad prefix length", ErrMalformedCIDR, cidr)
	}
	return Route{Network: parts[0], Mask: Netmask(prefix)}, nil
}

// Netmask renders a prefix length as a dotted-quad mask. prefix must be in
// [0,32].
func Netmask(prefix int) string {
	shift := uint(32 - prefix)
	mask := uint64(0xFFFFFFFF) >> shift << shift
	return fmt.Sprintf("%d.%d.%d.%d", byte(mask>>24), byte(mask>>16), byte(mask>>8), byte(mask))
}
