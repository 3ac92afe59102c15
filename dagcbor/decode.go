package dagcbor

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/haileyok/plcaudit/cid"
)

const maxDepth = 512

type decoder struct {
	b []byte
	p int
}

// DecodeFirst decodes one value from the start of b and returns the bytes
// that follow it.
func DecodeFirst(b []byte) (any, []byte, error) {
	d := &decoder{b: b}

	v, err := d.readValue(0)
	if err != nil {
		return nil, nil, err
	}

	return v, b[d.p:], nil
}

// Decode decodes exactly one value; trailing bytes are an error.
func Decode(b []byte) (any, error) {
	v, rest, err := DecodeFirst(b)
	if err != nil {
		return nil, err
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("%w (%d bytes)", ErrRemainder, len(rest))
	}

	return v, nil
}

func (d *decoder) take(n uint64) ([]byte, error) {
	if n > uint64(len(d.b)-d.p) {
		return nil, fmt.Errorf("%w at offset %d (need %d bytes)", ErrTruncated, d.p, n)
	}

	out := d.b[d.p : d.p+int(n)]
	d.p += int(n)
	return out, nil
}

func (d *decoder) readByte() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) readTypeInfo() (byte, byte, error) {
	prelude, err := d.readByte()
	if err != nil {
		return 0, 0, err
	}
	return prelude >> 5, prelude & 0x1f, nil
}

func (d *decoder) readArgument(info byte) (uint64, error) {
	if info < 24 {
		return uint64(info), nil
	}

	switch info {
	case 24:
		b, err := d.take(1)
		if err != nil {
			return 0, err
		}
		return uint64(b[0]), nil
	case 25:
		b, err := d.take(2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint16(b)), nil
	case 26:
		b, err := d.take(4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint32(b)), nil
	case 27:
		b, err := d.take(8)
		if err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint64(b)
		if v > MaxSafeInteger {
			return 0, fmt.Errorf("%w: can't decode integers beyond safe integer range", ErrIntegerRange)
		}
		return v, nil
	}

	return 0, fmt.Errorf("%w; got %d", ErrInvalidArgument, info)
}

func (d *decoder) readString(n uint64) (string, error) {
	b, err := d.take(n)
	if err != nil {
		return "", err
	}

	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}

	return string(b), nil
}

func (d *decoder) readValue(depth int) (any, error) {
	if depth > maxDepth {
		return nil, ErrTooDeep
	}

	major, info, err := d.readTypeInfo()
	if err != nil {
		return nil, err
	}

	if major == majorSimple {
		return d.readSimple(info)
	}

	arg, err := d.readArgument(info)
	if err != nil {
		return nil, err
	}

	switch major {
	case majorUint:
		return int64(arg), nil

	case majorNegInt:
		if arg >= MaxSafeInteger {
			return nil, fmt.Errorf("%w: -1-%d", ErrIntegerRange, arg)
		}
		return -1 - int64(arg), nil

	case majorBytes:
		b, err := d.take(arg)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil

	case majorText:
		return d.readString(arg)

	case majorArray:
		// every element takes at least one byte
		if arg > uint64(len(d.b)-d.p) {
			return nil, fmt.Errorf("%w: array of %d elements", ErrTruncated, arg)
		}

		arr := make([]any, 0, arg)
		for i := uint64(0); i < arg; i++ {
			item, err := d.readValue(depth + 1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		return arr, nil

	case majorMap:
		if arg > uint64(len(d.b)-d.p)/2 {
			return nil, fmt.Errorf("%w: map of %d entries", ErrTruncated, arg)
		}

		obj := make(map[string]any, arg)
		for i := uint64(0); i < arg; i++ {
			kmajor, kinfo, err := d.readTypeInfo()
			if err != nil {
				return nil, err
			}
			if kmajor != majorText {
				return nil, fmt.Errorf("%w; got type %d", ErrNonStringKey, kmajor)
			}

			klen, err := d.readArgument(kinfo)
			if err != nil {
				return nil, err
			}
			key, err := d.readString(klen)
			if err != nil {
				return nil, err
			}

			if _, dup := obj[key]; dup {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
			}

			item, err := d.readValue(depth + 1)
			if err != nil {
				return nil, err
			}
			obj[key] = item
		}
		return obj, nil

	case majorTag:
		if arg != tagCidLink {
			return nil, fmt.Errorf("%w; got %d", ErrUnsupportedTag, arg)
		}
		return d.readCidLink()
	}

	return nil, fmt.Errorf("%w: major type %d", ErrUnsupportedType, major)
}

func (d *decoder) readCidLink() (cid.CID, error) {
	major, info, err := d.readTypeInfo()
	if err != nil {
		return cid.Undef, err
	}
	if major != majorBytes {
		return cid.Undef, fmt.Errorf("%w: expected cid-link to be type 2 (bytes); got type %d", ErrInvalidLink, major)
	}

	n, err := d.readArgument(info)
	if err != nil {
		return cid.Undef, err
	}

	b, err := d.take(n)
	if err != nil {
		return cid.Undef, err
	}

	c, err := cid.FromBinary(b)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %w", ErrInvalidLink, err)
	}

	return c, nil
}

func (d *decoder) readSimple(info byte) (any, error) {
	switch info {
	case 20:
		return false, nil
	case 21:
		return true, nil
	case 22:
		return nil, nil
	case 27:
		b, err := d.take(8)
		if err != nil {
			return nil, err
		}
		f := math.Float64frombits(binary.BigEndian.Uint64(b))
		if math.IsNaN(f) {
			return nil, ErrNaN
		}
		if math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %v", ErrIntegerRange, f)
		}
		return f, nil
	}

	return nil, fmt.Errorf("%w; got %d", ErrInvalidSimple, info)
}
