// Package region defines the fixed set of BeReal regions and total mappings
// keyed by them.
package region

import (
	"fmt"
	"strings"
)

// Region is one of the four regional moment feeds. The zero value is not a
// valid region.
type Region uint8

const (
	EU Region = iota + 1
	US
	AW
	AE
)

var all = [...]Region{EU, US, AW, AE}

// All returns every region in canonical order.
func All() []Region {
	out := make([]Region, len(all))
	copy(out, all[:])
	return out
}

// Count is the number of regions.
const Count = len(all)

func (r Region) Valid() bool { return r >= EU && r <= AE }

func (r Region) String() string {
	switch r {
	case EU:
		return "EU"
	case US:
		return "US"
	case AW:
		return "AW"
	case AE:
		return "AE"
	default:
		return fmt.Sprintf("Region(%d)", uint8(r))
	}
}

// Name is the human readable region name used in chat replies.
func (r Region) Name() string {
	switch r {
	case EU:
		return "Europe"
	case US:
		return "USA"
	case AW:
		return "Asia West"
	case AE:
		return "Asia East"
	default:
		return r.String()
	}
}

// Parse accepts the short code ("eu", "US", ...) case-insensitively.
func Parse(s string) (Region, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	for _, r := range all {
		if r.String() == key {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown region %q (want one of EU, US, AW, AE)", s)
}

func (r Region) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid region %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Region) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (r Region) index() int { return int(r) - 1 }
