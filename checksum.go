package framefs

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// Signature is an opaque integrity primitive over a byte slice.
type Signature func(data []byte) ([]byte, error)

// MD5 computes the MD5 digest of data.
func MD5(data []byte) ([]byte, error) {
	sum := md5.Sum(data)
	return sum[:], nil
}

// BLAKE3 computes the 32-byte BLAKE3 digest of data.
func BLAKE3(data []byte) ([]byte, error) {
	sum := blake3.Sum256(data)
	return sum[:], nil
}

// SignatureByName resolves a signature primitive by its config name.
func SignatureByName(name string) (Signature, error) {
	switch name {
	case "", "md5":
		return MD5, nil
	case "blake3":
		return BLAKE3, nil
	default:
		return nil, fmt.Errorf("unknown signature %q", name)
	}
}

// Checksummer turns a signature into the 32-bit frame checksum. Driver and
// controller must use the same one, otherwise every transfer mismatches.
type Checksummer struct {
	sig Signature
}

// NewChecksummer returns a Checksummer over sig. A nil sig means MD5.
func NewChecksummer(sig Signature) Checksummer {
	if sig == nil {
		sig = MD5
	}
	return Checksummer{sig: sig}
}

// Sum returns the checksum of a whole frame: the first four signature bytes
// read as a little-endian integer.
func (c Checksummer) Sum(frame *Frame) (Checksum, error) {
	sig := c.sig
	if sig == nil {
		sig = MD5
	}

	digest, err := sig(frame[:])
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrChecksumUnavailable, err)
	}
	if len(digest) < 4 {
		return 0, fmt.Errorf("%w: signature is %d bytes", ErrChecksumUnavailable, len(digest))
	}

	return Checksum(binary.LittleEndian.Uint32(digest)), nil
}
