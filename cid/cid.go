// Package cid implements the restricted CIDv1 subset used by atproto and
// did:plc: version 1, raw or dag-cbor content, sha2-256 digests, and a
// lowercase unpadded base32 text form.
package cid

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
)

const (
	Version = 1

	CodecRaw     = 0x55
	CodecDagCBOR = 0x71

	HashSHA256 = 0x12
)

var (
	ErrTooShort     = errors.New("cid too short")
	ErrVersion      = errors.New("incorrect cid version")
	ErrCodec        = errors.New("incorrect cid codec")
	ErrHashType     = errors.New("incorrect cid hash type")
	ErrDigestLength = errors.New("digest length mismatch")
	ErrRemainder    = errors.New("cid bytes includes remainder")
	ErrNotBase32    = errors.New("not a multibase base32 string")
	ErrBinary       = errors.New("incorrect binary cid")
)

// CID is an immutable content identifier. The zero value is Undef.
type CID struct {
	codec  byte
	digest []byte
	raw    []byte
}

var Undef = CID{}

// Create hashes data with sha2-256 and returns the CID for it under codec.
func Create(codec byte, data []byte) (CID, error) {
	if codec != CodecRaw && codec != CodecDagCBOR {
		return Undef, fmt.Errorf("%w (got 0x%x)", ErrCodec, codec)
	}

	// multihash bytes are [hash code][varint digest length][digest]
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return Undef, err
	}

	raw := make([]byte, 0, 2+len(mh))
	raw = append(raw, Version, codec)
	raw = append(raw, mh...)

	return CID{
		codec:  codec,
		digest: raw[len(raw)-(len(mh)-2):],
		raw:    raw,
	}, nil
}

// DecodeFirst parses a CID from the start of b and returns whatever follows it.
func DecodeFirst(b []byte) (CID, []byte, error) {
	if len(b) < 5 {
		return Undef, nil, ErrTooShort
	}

	if b[0] != Version {
		return Undef, nil, fmt.Errorf("%w (got v%d)", ErrVersion, b[0])
	}

	codec := b[1]
	if codec != CodecDagCBOR && codec != CodecRaw {
		return Undef, nil, fmt.Errorf("%w (got 0x%x)", ErrCodec, codec)
	}

	if b[2] != HashSHA256 {
		return Undef, nil, fmt.Errorf("%w (got 0x%x)", ErrHashType, b[2])
	}

	size, n, err := varint.FromUvarint(b[3:])
	if err != nil {
		return Undef, nil, fmt.Errorf("reading digest length: %w", err)
	}

	offset := 3 + n
	if uint64(len(b)-offset) < size {
		return Undef, nil, fmt.Errorf("%w (expected %d bytes; got %d)", ErrDigestLength, size, len(b)-offset)
	}

	end := offset + int(size)
	raw := bytes.Clone(b[:end])

	return CID{
		codec:  codec,
		digest: raw[offset:],
		raw:    raw,
	}, b[end:], nil
}

// Decode parses raw CID bytes. The buffer must hold exactly one CID.
func Decode(b []byte) (CID, error) {
	c, rest, err := DecodeFirst(b)
	if err != nil {
		return Undef, err
	}

	if len(rest) != 0 {
		return Undef, ErrRemainder
	}

	return c, nil
}

// Parse reads the "b"-prefixed base32 text form.
func Parse(s string) (CID, error) {
	if len(s) < 2 || s[0] != 'b' {
		return Undef, ErrNotBase32
	}

	if s[1:] != strings.ToLower(s[1:]) {
		return Undef, ErrNotBase32
	}

	enc, b, err := multibase.Decode(s)
	if err != nil {
		return Undef, fmt.Errorf("%w: %w", ErrNotBase32, err)
	}

	if enc != multibase.Base32 {
		return Undef, ErrNotBase32
	}

	return Decode(b)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) CID {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// FromBinary reads the 0x00-prefixed form stored inside dag-cbor links.
func FromBinary(b []byte) (CID, error) {
	if len(b) < 2 {
		return Undef, ErrTooShort
	}

	if b[0] != 0x00 {
		return Undef, ErrBinary
	}

	return Decode(b[1:])
}

// ToBinary returns the 0x00-prefixed form of c.
func (c CID) ToBinary() []byte {
	out := make([]byte, 1+len(c.raw))
	copy(out[1:], c.raw)
	return out
}

func (c CID) String() string {
	if !c.Defined() {
		return ""
	}

	s, err := multibase.Encode(multibase.Base32, c.raw)
	if err != nil {
		// base32 is always a known encoding
		panic(err)
	}

	return s
}

func (c CID) Defined() bool {
	return len(c.raw) > 0
}

func (c CID) Version() int {
	if !c.Defined() {
		return 0
	}
	return Version
}

func (c CID) Codec() byte {
	return c.codec
}

func (c CID) DigestCodec() byte {
	if !c.Defined() {
		return 0
	}
	return HashSHA256
}

// Digest returns a copy of the hash bytes.
func (c CID) Digest() []byte {
	return bytes.Clone(c.digest)
}

// Bytes returns a copy of the raw CID bytes.
func (c CID) Bytes() []byte {
	return bytes.Clone(c.raw)
}

// Equals compares raw bytes. The text form plays no part in identity.
func (c CID) Equals(o CID) bool {
	return bytes.Equal(c.raw, o.raw)
}
