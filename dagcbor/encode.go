// Package dagcbor is the deterministic CBOR codec that did:plc operations are
// hashed and signed over.
//
// The value model is small: nil, bool, integers within ±(2^53-1), float64,
// string, []byte, cid.CID, arrays and string-keyed maps. Decode always yields
// int64, float64, string, []byte, cid.CID, []any and map[string]any for the
// compound and numeric cases.
//
// Map keys are ordered shortest first, and keys of equal length bytewise
// ascending. This is what the signatures in the wild were produced against, so
// it must not be swapped for the RFC 8949 ordering.
package dagcbor

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"
	"unicode/utf8"

	"github.com/haileyok/plcaudit/cid"
)

const (
	majorUint   = 0
	majorNegInt = 1
	majorBytes  = 2
	majorText   = 3
	majorArray  = 4
	majorMap    = 5
	majorTag    = 6
	majorSimple = 7

	tagCidLink = 42

	simpleFalse   = 0xf4
	simpleTrue    = 0xf5
	simpleNull    = 0xf6
	simpleFloat64 = 0xfb

	// MaxSafeInteger is the largest integer magnitude the value model accepts.
	MaxSafeInteger = 1<<53 - 1
)

// Undefined marks a map entry that is left out of the encoding entirely.
type Undefined struct{}

type encoder struct {
	buf []byte
}

// Encode returns the canonical encoding of v.
func Encode(v any) ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 1024)}
	if err := e.writeValue(v); err != nil {
		return nil, err
	}
	return e.buf, nil
}

func (e *encoder) writeHeader(major byte, arg uint64) {
	m := major << 5
	switch {
	case arg < 24:
		e.buf = append(e.buf, m|byte(arg))
	case arg <= math.MaxUint8:
		e.buf = append(e.buf, m|24, byte(arg))
	case arg <= math.MaxUint16:
		e.buf = append(e.buf, m|25)
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(arg))
	case arg <= math.MaxUint32:
		e.buf = append(e.buf, m|26)
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(arg))
	default:
		e.buf = append(e.buf, m|27)
		e.buf = binary.BigEndian.AppendUint64(e.buf, arg)
	}
}

func (e *encoder) writeInt(v int64) error {
	if v > MaxSafeInteger || v < -MaxSafeInteger {
		return fmt.Errorf("%w: %d", ErrIntegerRange, v)
	}

	if v < 0 {
		e.writeHeader(majorNegInt, uint64(-(v + 1)))
	} else {
		e.writeHeader(majorUint, uint64(v))
	}
	return nil
}

func (e *encoder) writeUint(v uint64) error {
	if v > MaxSafeInteger {
		return fmt.Errorf("%w: %d", ErrIntegerRange, v)
	}

	e.writeHeader(majorUint, v)
	return nil
}

func (e *encoder) writeFloat(v float64) error {
	if math.IsNaN(v) {
		return ErrNaN
	}

	if v > MaxSafeInteger || v < -MaxSafeInteger {
		return fmt.Errorf("%w: %v", ErrIntegerRange, v)
	}

	// integral numbers are integers no matter how they reached us
	if v == math.Trunc(v) {
		return e.writeInt(int64(v))
	}

	e.buf = append(e.buf, simpleFloat64)
	e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(v))
	return nil
}

func (e *encoder) writeString(s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}

	e.writeHeader(majorText, uint64(len(s)))
	e.buf = append(e.buf, s...)
	return nil
}

func (e *encoder) writeBytes(b []byte) {
	e.writeHeader(majorBytes, uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) writeCid(c cid.CID) error {
	if !c.Defined() {
		return fmt.Errorf("%w: undefined cid", ErrInvalidLink)
	}

	e.writeHeader(majorTag, tagCidLink)
	e.writeBytes(c.ToBinary())
	return nil
}

func (e *encoder) writeValue(v any) error {
	switch val := v.(type) {
	case nil:
		e.buf = append(e.buf, simpleNull)
		return nil
	case bool:
		if val {
			e.buf = append(e.buf, simpleTrue)
		} else {
			e.buf = append(e.buf, simpleFalse)
		}
		return nil
	case int:
		return e.writeInt(int64(val))
	case int64:
		return e.writeInt(val)
	case uint64:
		return e.writeUint(val)
	case float64:
		return e.writeFloat(val)
	case string:
		return e.writeString(val)
	case []byte:
		e.writeBytes(val)
		return nil
	case cid.CID:
		return e.writeCid(val)
	case *cid.CID:
		if val == nil {
			e.buf = append(e.buf, simpleNull)
			return nil
		}
		return e.writeCid(*val)
	case []any:
		e.writeHeader(majorArray, uint64(len(val)))
		for _, item := range val {
			if err := e.writeValue(item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k, item := range val {
			if _, skip := item.(Undefined); skip {
				continue
			}
			keys = append(keys, k)
		}
		sortKeys(keys)

		e.writeHeader(majorMap, uint64(len(keys)))
		for _, k := range keys {
			if err := e.writeString(k); err != nil {
				return err
			}
			if err := e.writeValue(val[k]); err != nil {
				return err
			}
		}
		return nil
	case Undefined:
		return fmt.Errorf("%w: undefined outside of a map entry", ErrUnsupportedType)
	}

	return e.writeReflect(reflect.ValueOf(v))
}

// writeReflect covers named types, typed slices and maps, and pointers.
func (e *encoder) writeReflect(rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Bool:
		return e.writeValue(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.writeInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return e.writeUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return e.writeFloat(rv.Float())
	case reflect.String:
		return e.writeString(rv.String())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			e.buf = append(e.buf, simpleNull)
			return nil
		}
		return e.writeValue(rv.Elem().Interface())
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			e.writeBytes(rv.Bytes())
			return nil
		}
		fallthrough
	case reflect.Array:
		n := rv.Len()
		e.writeHeader(majorArray, uint64(n))
		for i := 0; i < n; i++ {
			if err := e.writeValue(rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: map keys must be strings, got %s", ErrUnsupportedType, rv.Type().Key())
		}

		entries := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			entries[iter.Key().String()] = iter.Value().Interface()
		}
		return e.writeValue(entries)
	}

	if !rv.IsValid() {
		e.buf = append(e.buf, simpleNull)
		return nil
	}

	return fmt.Errorf("%w: %s", ErrUnsupportedType, rv.Type())
}

// sortKeys orders map keys by byte length, then bytewise.
func sortKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
}
