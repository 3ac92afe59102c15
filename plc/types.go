package plc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/bluesky-social/indigo/util"
	"github.com/haileyok/plcaudit/cid"
)

const (
	OpTypeOperation = "plc_operation"
	OpTypeTombstone = "plc_tombstone"
	OpTypeCreate    = "create"
)

// Operation is any of the three operation shapes a did:plc log can carry.
// Which fields are meaningful depends on Type; the rest stay nil/empty.
type Operation struct {
	Type string  `json:"type"`
	Prev *string `json:"prev"`
	Sig  string  `json:"sig"`

	// plc_operation
	RotationKeys        []string           `json:"rotationKeys,omitempty"`
	VerificationMethods map[string]string  `json:"verificationMethods,omitempty"`
	AlsoKnownAs         []string           `json:"alsoKnownAs,omitempty"`
	Services            map[string]Service `json:"services,omitempty"`

	// create (legacy genesis)
	SigningKey  string `json:"signingKey,omitempty"`
	RecoveryKey string `json:"recoveryKey,omitempty"`
	Handle      string `json:"handle,omitempty"`
	Service     string `json:"service,omitempty"`
}

type Service struct {
	Type     string `json:"type" validate:"max=256"`
	Endpoint string `json:"endpoint" validate:"max=512"`
}

func (op *Operation) IsTombstone() bool {
	return op.Type == OpTypeTombstone
}

// Unsigned is the map the signature is computed over.
func (op *Operation) Unsigned() map[string]any {
	m := map[string]any{
		"type": op.Type,
		"prev": op.Prev,
	}

	switch op.Type {
	case OpTypeOperation:
		m["rotationKeys"] = nonNilStrings(op.RotationKeys)
		m["verificationMethods"] = nonNilMap(op.VerificationMethods)
		m["alsoKnownAs"] = nonNilStrings(op.AlsoKnownAs)

		services := make(map[string]any, len(op.Services))
		for id, svc := range op.Services {
			services[id] = map[string]any{
				"type":     svc.Type,
				"endpoint": svc.Endpoint,
			}
		}
		m["services"] = services
	case OpTypeCreate:
		m["signingKey"] = op.SigningKey
		m["recoveryKey"] = op.RecoveryKey
		m["handle"] = op.Handle
		m["service"] = op.Service
	}

	return m
}

// Signed is Unsigned plus the sig field. CIDs and DIDs are derived from it.
func (op *Operation) Signed() map[string]any {
	m := op.Unsigned()
	m["sig"] = op.Sig
	return m
}

// MarshalJSON emits exactly the fields of the operation's type.
func (op Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(op.Signed())
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// IndexedOperation is one entry of a directory audit log.
type IndexedOperation struct {
	Did       string
	Operation Operation
	Cid       cid.CID
	Nullified bool
	CreatedAt time.Time
}

type indexedOperationJSON struct {
	Did       string          `json:"did"`
	Operation json.RawMessage `json:"operation"`
	Cid       string          `json:"cid"`
	Nullified bool            `json:"nullified"`
	CreatedAt string          `json:"createdAt"`
}

func (iop IndexedOperation) MarshalJSON() ([]byte, error) {
	op, err := json.Marshal(iop.Operation)
	if err != nil {
		return nil, err
	}

	return json.Marshal(indexedOperationJSON{
		Did:       iop.Did,
		Operation: op,
		Cid:       iop.Cid.String(),
		Nullified: iop.Nullified,
		CreatedAt: iop.CreatedAt.UTC().Format(util.ISO8601),
	})
}

func (iop *IndexedOperation) UnmarshalJSON(b []byte) error {
	members, err := objectMembers(b)
	if err != nil {
		return err
	}
	for k := range members {
		if !entryFields[k] {
			return fmt.Errorf("unknown field %q", k)
		}
	}

	var raw indexedOperationJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	c, err := cid.Parse(raw.Cid)
	if err != nil {
		return fmt.Errorf("invalid cid %q: %w", raw.Cid, err)
	}

	dt, err := syntax.ParseDatetime(raw.CreatedAt)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", raw.CreatedAt, err)
	}

	if len(raw.Operation) == 0 {
		return fmt.Errorf("missing operation")
	}

	if err := checkOperationFields(raw.Operation); err != nil {
		return fmt.Errorf("invalid operation: %w", err)
	}

	var op Operation
	dec := json.NewDecoder(bytes.NewReader(raw.Operation))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&op); err != nil {
		return fmt.Errorf("invalid operation: %w", err)
	}

	*iop = IndexedOperation{
		Did:       raw.Did,
		Operation: op,
		Cid:       c,
		Nullified: raw.Nullified,
		CreatedAt: dt.Time(),
	}

	return nil
}

var entryFields = map[string]bool{
	"did":       true,
	"operation": true,
	"cid":       true,
	"nullified": true,
	"createdAt": true,
}

// operationFields is every key any operation shape may carry, in its exact
// case. Which keys a given type may use is left to CheckOperation.
var operationFields = map[string]bool{
	"type":                true,
	"prev":                true,
	"sig":                 true,
	"rotationKeys":        true,
	"verificationMethods": true,
	"alsoKnownAs":         true,
	"services":            true,
	"signingKey":          true,
	"recoveryKey":         true,
	"handle":              true,
	"service":             true,
}

var serviceFields = map[string]bool{
	"type":     true,
	"endpoint": true,
}

// checkOperationFields rejects keys encoding/json would otherwise match
// case-insensitively, and duplicate keys it would silently collapse.
func checkOperationFields(b []byte) error {
	members, err := objectMembers(b)
	if err != nil {
		return err
	}

	for k := range members {
		if !operationFields[k] {
			return fmt.Errorf("unknown field %q", k)
		}
	}

	if _, err := objectMembers(members["verificationMethods"]); err != nil {
		return fmt.Errorf("verificationMethods: %w", err)
	}

	services, err := objectMembers(members["services"])
	if err != nil {
		return fmt.Errorf("services: %w", err)
	}
	for id, svc := range services {
		fields, err := objectMembers(svc)
		if err != nil {
			return fmt.Errorf("services.%s: %w", id, err)
		}
		for k := range fields {
			if !serviceFields[k] {
				return fmt.Errorf("services.%s: unknown field %q", id, k)
			}
		}
	}

	return nil
}

// objectMembers splits a JSON object into its members. Absent and null
// values yield no members. Anything else that is not an object is left for
// the typed decode to reject.
func objectMembers(b []byte) (map[string]json.RawMessage, error) {
	if len(b) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil
	}

	members := map[string]json.RawMessage{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		if _, dup := members[key]; dup {
			return nil, fmt.Errorf("duplicate field %q", key)
		}

		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		members[key] = v
	}

	return members, nil
}

// Result is the outcome of replaying a log: the surviving chain in order and
// every operation a valid recovery pushed out of it.
type Result struct {
	Canonical []IndexedOperation `json:"canonical"`
	Nullified []IndexedOperation `json:"nullified"`
}

// Tip is the last canonical operation.
func (r *Result) Tip() *IndexedOperation {
	if len(r.Canonical) == 0 {
		return nil
	}
	return &r.Canonical[len(r.Canonical)-1]
}
