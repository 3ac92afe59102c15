package dagcbor

import "errors"

var (
	ErrUnsupportedType = errors.New("unsupported type")
	ErrIntegerRange    = errors.New("number beyond safe integer range")
	ErrNaN             = errors.New("NaN values not supported")
	ErrInvalidUTF8     = errors.New("string is not valid utf-8")

	ErrTruncated       = errors.New("unexpected end of input")
	ErrRemainder       = errors.New("decoded value contains remainder")
	ErrInvalidArgument = errors.New("invalid argument encoding")
	ErrInvalidSimple   = errors.New("invalid simple value")
	ErrNonStringKey    = errors.New("expected map to only have string keys")
	ErrDuplicateKey    = errors.New("duplicate map key")
	ErrUnsupportedTag  = errors.New("unsupported tag")
	ErrInvalidLink     = errors.New("invalid cid-link")
	ErrTooDeep         = errors.New("value nested too deeply")
)
