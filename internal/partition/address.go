// Package partition resolves "primary[:logical]" partition addresses to byte
// ranges inside raw disk images.
package partition

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Separator splits the primary and logical parts of an address.
const Separator = ":"

var (
	// ErrInvalidAddress is returned for malformed address strings.
	ErrInvalidAddress = errors.New("invalid partition address")

	// ErrPartitionNotFound is returned when a primary or logical index does
	// not name a partition in the boot record.
	ErrPartitionNotFound = errors.New("partition not found")

	// ErrNotExtendedPartition is returned when a logical partition is
	// requested under a primary partition that holds no EBR.
	ErrNotExtendedPartition = errors.New("not an extended partition")
)

// Address names a partition by its 1-based primary slot and, optionally, the
// 1-based logical partition inside it.
type Address struct {
	Primary    int
	Logical    int
	HasLogical bool
}

// ParseAddress parses "primary" or "primary:logical".
func ParseAddress(input string) (Address, error) {
	if input == "" {
		return Address{}, fmt.Errorf("%w: empty string", ErrInvalidAddress)
	}
	if strings.Count(input, Separator) > 1 {
		return Address{}, fmt.Errorf("%w %q: multiple separators", ErrInvalidAddress, input)
	}

	primary, logical, hasLogical := strings.Cut(input, Separator)

	var (
		addr Address
		err  error
	)
	if addr.Primary, err = parseIndex(primary); err != nil {
		return Address{}, fmt.Errorf("%w %q: primary partition: %v", ErrInvalidAddress, input, err)
	}
	if hasLogical {
		if addr.Logical, err = parseIndex(logical); err != nil {
			return Address{}, fmt.Errorf("%w %q: logical partition: %v", ErrInvalidAddress, input, err)
		}
		addr.HasLogical = true
	}
	return addr, nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(input string) Address {
	addr, err := ParseAddress(input)
	if err != nil {
		panic(err)
	}
	return addr
}

// parseIndex accepts base-10 digits only; signs, spaces and empty segments
// are rejected.
func parseIndex(s string) (int, error) {
	if s == "" {
		return 0, errors.New("missing number")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%q is not a number", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is out of range", s)
	}
	return n, nil
}

// String renders the canonical form of the address.
func (a Address) String() string {
	if !a.HasLogical {
		return strconv.Itoa(a.Primary)
	}
	return strconv.Itoa(a.Primary) + Separator + strconv.Itoa(a.Logical)
}

// IsLogical reports whether the address selects a logical partition. A
// logical index of zero selects the primary partition itself.
func (a Address) IsLogical() bool {
	return a.HasLogical && a.Logical != 0
}

// Target returns the partition the address resolves to, with "n:0" folded
// into "n". Two addresses with equal targets name the same partition.
func (a Address) Target() Address {
	if !a.IsLogical() {
		return Address{Primary: a.Primary}
	}
	return a
}
