package plc

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/bluesky-social/indigo/atproto/crypto"
	"github.com/haileyok/plcaudit/dagcbor"
)

// Verifier checks a detached signature over msg against a did:key.
type Verifier interface {
	Verify(ctx context.Context, didKey string, sig, msg []byte) bool
}

type VerifierFunc func(ctx context.Context, didKey string, sig, msg []byte) bool

func (f VerifierFunc) Verify(ctx context.Context, didKey string, sig, msg []byte) bool {
	return f(ctx, didKey, sig, msg)
}

// KeyVerifier verifies with K-256 and P-256 did:keys. Lenient accepts
// high-S signatures, which do appear in older directory history.
type KeyVerifier struct {
	Lenient bool
}

func (kv KeyVerifier) Verify(ctx context.Context, didKey string, sig, msg []byte) bool {
	pub, err := crypto.ParsePublicDIDKey(didKey)
	if err != nil {
		return false
	}

	if kv.Lenient {
		return pub.HashAndVerifyLenient(msg, sig) == nil
	}
	return pub.HashAndVerify(msg, sig) == nil
}

// signedBy returns the first key in keys whose signature over the unsigned
// encoding of op checks out, or "" if none does.
func signedBy(ctx context.Context, v Verifier, keys []string, op *Operation) (string, error) {
	sig, err := base64.RawURLEncoding.DecodeString(op.Sig)
	if err != nil {
		// an undecodable signature simply verifies against nothing
		return "", nil
	}

	msg, err := dagcbor.Encode(op.Unsigned())
	if err != nil {
		return "", fmt.Errorf("encoding unsigned operation: %w", err)
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if v.Verify(ctx, key, sig, msg) {
			return key, nil
		}
	}

	return "", nil
}
