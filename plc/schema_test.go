package plc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKeyA = "did:key:zQ3shhCGUqDKjStzuDxPkTxN6ujddP4RkEKJJouJGRRkaLGbg"
	testKeyB = "did:key:zQ3shpKnbdPx3g3CmPf5cRVTPe1HtSwVn5ish3wSnDPQCbLJK"
	testKeyC = "did:key:zDnaepbLeZpNrs4jp24Rio9CumZzws9avgn8MDxgt63d8hPeY"
)

func validOperation() Operation {
	prev := "bafyreid2tbopmtuguvuvij5kjcqo7rv7yvqza37uvfcvk5zdxyo57xlfdi"
	return Operation{
		Type:                OpTypeOperation,
		Prev:                &prev,
		Sig:                 "c2ln",
		RotationKeys:        []string{testKeyA, testKeyB},
		VerificationMethods: map[string]string{MethodAtproto: testKeyC},
		AlsoKnownAs:         []string{"at://alice.example.com"},
		Services: map[string]Service{
			ServiceIDPds: {Type: ServiceTypePds, Endpoint: "https://pds.example.com"},
		},
	}
}

func TestCheckOperation(t *testing.T) {
	tests := []struct {
		name    string
		genesis bool
		mutate  func(op *Operation)
		wantErr string
	}{
		{name: "valid", mutate: func(op *Operation) {}},
		{name: "valid genesis", genesis: true, mutate: func(op *Operation) { op.Prev = nil }},
		{
			name:    "no rotation keys",
			mutate:  func(op *Operation) { op.RotationKeys = []string{} },
			wantErr: "min",
		},
		{
			name: "eleven rotation keys",
			mutate: func(op *Operation) {
				op.RotationKeys = nil
				for i := 0; i < 11; i++ {
					op.RotationKeys = append(op.RotationKeys, testKeyA)
				}
			},
			wantErr: "max",
		},
		{
			name:    "duplicate rotation keys",
			mutate:  func(op *Operation) { op.RotationKeys = []string{testKeyA, testKeyA} },
			wantErr: "unique",
		},
		{
			name:    "rotation key is not a did:key",
			mutate:  func(op *Operation) { op.RotationKeys = []string{"did:web:example.com"} },
			wantErr: "did-key",
		},
		{
			name:    "missing verification methods",
			mutate:  func(op *Operation) { op.VerificationMethods = nil },
			wantErr: "required",
		},
		{
			name: "long verification method id",
			mutate: func(op *Operation) {
				op.VerificationMethods = map[string]string{strings.Repeat("v", 33): testKeyC}
			},
			wantErr: "max",
		},
		{
			name:    "duplicate aliases",
			mutate:  func(op *Operation) { op.AlsoKnownAs = []string{"at://a", "at://a"} },
			wantErr: "unique",
		},
		{
			name:    "long alias",
			mutate:  func(op *Operation) { op.AlsoKnownAs = []string{"at://" + strings.Repeat("a", 256)} },
			wantErr: "max",
		},
		{
			name: "eleven services",
			mutate: func(op *Operation) {
				for i := 0; i < 10; i++ {
					op.Services[fmt.Sprintf("svc%d", i)] = Service{Type: "t", Endpoint: "https://e"}
				}
			},
			wantErr: "max",
		},
		{
			name: "long service id",
			mutate: func(op *Operation) {
				op.Services[strings.Repeat("s", 33)] = Service{Type: "t", Endpoint: "https://e"}
			},
			wantErr: "max",
		},
		{
			name: "long endpoint",
			mutate: func(op *Operation) {
				op.Services[ServiceIDPds] = Service{Type: ServiceTypePds, Endpoint: strings.Repeat("e", 513)}
			},
			wantErr: "max",
		},
		{
			name:    "legacy fields on plc_operation",
			mutate:  func(op *Operation) { op.Handle = "alice.example.com" },
			wantErr: "legacy create fields",
		},
		{
			name: "tombstone",
			mutate: func(op *Operation) {
				*op = Operation{Type: OpTypeTombstone, Prev: op.Prev, Sig: op.Sig}
			},
		},
		{
			name:    "tombstone as genesis",
			genesis: true,
			mutate: func(op *Operation) {
				*op = Operation{Type: OpTypeTombstone, Sig: op.Sig}
			},
			wantErr: "first operation",
		},
		{
			name: "tombstone without prev",
			mutate: func(op *Operation) {
				*op = Operation{Type: OpTypeTombstone, Sig: op.Sig}
			},
			wantErr: "required",
		},
		{
			name: "tombstone with keys",
			mutate: func(op *Operation) {
				op.Type = OpTypeTombstone
			},
			wantErr: "besides prev and sig",
		},
		{
			name:    "missing sig",
			mutate:  func(op *Operation) { op.Sig = "" },
			wantErr: "required",
		},
		{
			name:    "unknown type",
			mutate:  func(op *Operation) { op.Type = "plc_something" },
			wantErr: "unknown operation type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := validOperation()
			tt.mutate(&op)

			err := CheckOperation(&op, tt.genesis)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, schemaError(err).Error(), tt.wantErr)
		})
	}
}

func TestCheckCreateOperation(t *testing.T) {
	create := func() Operation {
		return Operation{
			Type:        OpTypeCreate,
			Sig:         "c2ln",
			SigningKey:  testKeyB,
			RecoveryKey: testKeyA,
			Handle:      "alice.example.com",
			Service:     "https://pds.example.com",
		}
	}

	op := create()
	require.NoError(t, CheckOperation(&op, true))
	require.Error(t, CheckOperation(&op, false))

	op = create()
	op.Handle = strings.Repeat("h", 257)
	require.Error(t, CheckOperation(&op, true))

	op = create()
	op.Service = strings.Repeat("s", 513)
	require.Error(t, CheckOperation(&op, true))

	op = create()
	op.RotationKeys = []string{testKeyA}
	require.ErrorContains(t, CheckOperation(&op, true), "plc_operation fields")

	op = create()
	prev := "bafyreid2tbopmtuguvuvij5kjcqo7rv7yvqza37uvfcvk5zdxyo57xlfdi"
	op.Prev = &prev
	require.ErrorContains(t, CheckOperation(&op, true), "null prev")
}

func TestParseAuditLog(t *testing.T) {
	b, err := os.ReadFile(filepath.Join("testdata", "audit_log_legacy.json"))
	require.NoError(t, err)

	edit := func(t *testing.T, fn func(entries []map[string]any)) []byte {
		var entries []map[string]any
		require.NoError(t, json.Unmarshal(b, &entries))
		fn(entries)
		out, err := json.Marshal(entries)
		require.NoError(t, err)
		return out
	}

	t.Run("valid", func(t *testing.T) {
		log, err := ParseAuditLog(b)
		require.NoError(t, err)
		require.Len(t, log, 4)
		assert.Equal(t, OpTypeCreate, log[0].Operation.Type)
		assert.Nil(t, log[0].Operation.Prev)
		assert.Equal(t, "did:plc:oky5czdrnfjpqslsw2a5iclo", log[3].Did)
	})

	tests := []struct {
		name string
		fn   func(entries []map[string]any)
		want string
	}{
		{
			name: "foreign field",
			fn: func(entries []map[string]any) {
				entries[1]["operation"].(map[string]any)["extra"] = true
			},
			want: "unknown field",
		},
		{
			name: "bad cid",
			fn:   func(entries []map[string]any) { entries[2]["cid"] = "zz" },
			want: "invalid cid",
		},
		{
			name: "bad timestamp",
			fn:   func(entries []map[string]any) { entries[2]["createdAt"] = "yesterday" },
			want: "invalid timestamp",
		},
		{
			name: "bad did",
			fn: func(entries []map[string]any) {
				for _, e := range entries {
					e["did"] = "did:web:example.com"
				}
			},
			want: "invalid did",
		},
		{
			name: "mixed dids",
			fn:   func(entries []map[string]any) { entries[3]["did"] = "did:plc:pkmfz5soq2swsvbhvjekb36g" },
			want: "does not match",
		},
		{
			name: "tombstone first",
			fn: func(entries []map[string]any) {
				entries[0]["operation"] = map[string]any{"type": "plc_tombstone", "prev": nil, "sig": "c2ln"}
			},
			want: "first operation",
		},
		{
			name: "missing operation",
			fn:   func(entries []map[string]any) { delete(entries[1], "operation") },
			want: "missing operation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAuditLog(edit(t, tt.fn))
			require.Error(t, err)
			assert.True(t, IsKind(err, KindMalformed))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	rewrites := []struct {
		name     string
		old, new string
		want     string
	}{
		{
			name: "uppercase field",
			old:  `"rotationKeys"`,
			new:  `"ROTATIONKEYS"`,
			want: `unknown field "ROTATIONKEYS"`,
		},
		{
			name: "capitalized field",
			old:  `"alsoKnownAs"`,
			new:  `"AlsoKnownAs"`,
			want: `unknown field "AlsoKnownAs"`,
		},
		{
			name: "capitalized service field",
			old:  `"endpoint"`,
			new:  `"Endpoint"`,
			want: `unknown field "Endpoint"`,
		},
		{
			name: "capitalized entry field",
			old:  `"createdAt"`,
			new:  `"CreatedAt"`,
			want: `unknown field "CreatedAt"`,
		},
		{
			name: "duplicate field",
			old:  `"prev": null,`,
			new:  `"prev": null, "prev": null,`,
			want: `duplicate field "prev"`,
		},
		{
			name: "duplicate verification method",
			old:  `"atproto": "did:key:zQ3shXjHeiBuRCKmM36cuYnm7YEMzhGnCmCyW92sRJ9pribSF"`,
			new:  `"atproto": "did:key:zQ3shXjHeiBuRCKmM36cuYnm7YEMzhGnCmCyW92sRJ9pribSF", "atproto": "did:key:zQ3shXjHeiBuRCKmM36cuYnm7YEMzhGnCmCyW92sRJ9pribSF"`,
			want: `duplicate field "atproto"`,
		},
	}

	for _, tt := range rewrites {
		t.Run(tt.name, func(t *testing.T) {
			require.Contains(t, string(b), tt.old)

			_, err := ParseAuditLog(bytes.Replace(b, []byte(tt.old), []byte(tt.new), 1))
			require.Error(t, err)
			assert.True(t, IsKind(err, KindMalformed))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("empty", func(t *testing.T) {
		_, err := ParseAuditLog([]byte(`[]`))
		require.Error(t, err)
		assert.True(t, IsKind(err, KindMalformed))
	})
}

func TestIsDidPlc(t *testing.T) {
	assert.True(t, IsDidPlc("did:plc:oky5czdrnfjpqslsw2a5iclo"))
	assert.False(t, IsDidPlc("did:plc:oky5czdrnfjpqslsw2a5icl"))
	assert.False(t, IsDidPlc("did:plc:OKY5CZDRNFJPQSLSW2A5ICLO"))
	assert.False(t, IsDidPlc("did:plc:oky5czdrnfjpqslsw2a5icl0"))
	assert.False(t, IsDidPlc("did:web:example.com"))
}
