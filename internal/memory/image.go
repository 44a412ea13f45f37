package memory

import (
	"errors"
	"fmt"
	"time"
)

// PE header offsets.
const (
	dosMagic            = "MZ"
	peMagic             = "PE"
	lfanewOffset        = 0x3c
	peTimestampOffset   = 8 // Signature (4) + Machine (2) + NumberOfSections (2).
	fingerprintHexWidth = 8
)

// Fingerprint identifies a target build. It is the PE TimeDateStamp as
// fixed-width lowercase hex.
type Fingerprint string

// FingerprintOf renders a header timestamp.
func FingerprintOf(timestamp uint32) Fingerprint {
	return Fingerprint(fmt.Sprintf("%0*x", fingerprintHexWidth, timestamp))
}

func (f Fingerprint) String() string {
	return string(f)
}

// ImageHeader holds the header fields read from a loaded executable.
type ImageHeader struct {
	Base      uint64 `json:"base"`
	PEHeader  uint64 `json:"pe_header"`
	Timestamp uint32 `json:"timestamp"`
	// Problems lists magic mismatches; the timestamp is still populated.
	Problems []error `json:"-"`
}

// Fingerprint returns the version fingerprint of the image.
func (h ImageHeader) Fingerprint() Fingerprint {
	return FingerprintOf(h.Timestamp)
}

// CompiledAt converts the header timestamp to a time.
func (h ImageHeader) CompiledAt() time.Time {
	return time.Unix(int64(h.Timestamp), 0).UTC()
}

// Valid reports whether both magic signatures matched.
func (h ImageHeader) Valid() bool {
	return len(h.Problems) == 0
}

// ReadImageHeader reads the DOS and PE headers of the image at base.
func ReadImageHeader(mem Memory, base uint64) ImageHeader {
	h := ImageHeader{Base: base}

	if got := mem.ReadBytes(base, 2); string(got) != dosMagic {
		h.Problems = append(h.Problems, &FormatError{Field: "DOS signature", Addr: base, Want: dosMagic, Got: got})
	}

	// e_lfanew is signed; a garbage value just points the reads elsewhere.
	lfanew := mem.ReadI32(base + lfanewOffset)
	h.PEHeader = base + uint64(int64(lfanew))

	if got := mem.ReadBytes(h.PEHeader, 2); string(got) != peMagic {
		h.Problems = append(h.Problems, &FormatError{Field: "PE signature", Addr: h.PEHeader, Want: peMagic, Got: got})
	}

	h.Timestamp = mem.ReadU32(h.PEHeader + peTimestampOffset)
	return h
}

// ComputeFingerprint returns the fingerprint of the image at base. The
// fingerprint is always usable; a non-nil error joins the *FormatError
// values for mismatched magic bytes.
func ComputeFingerprint(mem Memory, base uint64) (Fingerprint, error) {
	h := ReadImageHeader(mem, base)
	return h.Fingerprint(), errors.Join(h.Problems...)
}
