package helpers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// FormatAddress renders addr as a zero-padded hex address. Addresses that
// fit in 32 bits use eight digits.
func FormatAddress(addr uint64) string {
	if addr > 0xffffffff {
		return fmt.Sprintf("0x%016x", addr)
	}
	return fmt.Sprintf("0x%08x", addr)
}

// ParseAddress parses a target address. Hex needs a 0x prefix; plain digits
// are decimal. Underscores may separate digit groups.
func ParseAddress(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty address")
	}
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr, nil
}

// AddressValue is a pflag.Value holding a target address.
type AddressValue uint64

var _ pflag.Value = (*AddressValue)(nil)

// NewAddressValue sets the default and returns a flag value bound to p.
func NewAddressValue(val uint64, p *uint64) *AddressValue {
	*p = val
	return (*AddressValue)(p)
}

func (a *AddressValue) String() string {
	return FormatAddress(uint64(*a))
}

func (a *AddressValue) Set(s string) error {
	addr, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = AddressValue(addr)
	return nil
}

func (a *AddressValue) Type() string {
	return "address"
}
