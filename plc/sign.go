package plc

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bluesky-social/indigo/atproto/crypto"
	"github.com/haileyok/plcaudit/cid"
	"github.com/haileyok/plcaudit/dagcbor"
)

// SignOperation signs the unsigned encoding of op with key and stores the
// signature in op.Sig.
func SignOperation(key crypto.PrivateKey, op *Operation) error {
	b, err := dagcbor.Encode(op.Unsigned())
	if err != nil {
		return err
	}

	sig, err := key.HashAndSign(b)
	if err != nil {
		return err
	}

	op.Sig = base64.RawURLEncoding.EncodeToString(sig)

	return nil
}

// OperationCid is the dag-cbor CID of the signed operation.
func OperationCid(op *Operation) (cid.CID, error) {
	b, err := dagcbor.Encode(op.Signed())
	if err != nil {
		return cid.Undef, err
	}

	return cid.Create(cid.CodecDagCBOR, b)
}

// DidForGenesis derives the did:plc identifier a signed genesis operation
// certifies.
func DidForGenesis(op *Operation) (string, error) {
	if op.Prev != nil {
		return "", fmt.Errorf("operation is not a genesis operation")
	}

	b, err := dagcbor.Encode(op.Signed())
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write(b)
	bs := h.Sum(nil)

	b32 := strings.ToLower(base32.StdEncoding.EncodeToString(bs))

	return "did:plc:" + b32[0:24], nil
}
