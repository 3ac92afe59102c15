package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bluesky-social/indigo/atproto/crypto"
	"github.com/haileyok/plcaudit/plc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testValidator() *plc.Validator {
	return plc.NewValidator(plc.Options{
		Verifier: plc.KeyVerifier{Lenient: true},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func openFixture(t *testing.T, name string) *os.File {
	t.Helper()

	f, err := os.Open(filepath.Join("..", "..", "plc", "testdata", name))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestVerifyLog(t *testing.T) {
	ctx := context.Background()

	t.Run("recovery", func(t *testing.T) {
		out, err := verifyLog(ctx, testValidator(), "", openFixture(t, "audit_log_recovery.json"))
		require.NoError(t, err)
		assert.Equal(t, []string{
			"bafyreid2tbopmtuguvuvij5kjcqo7rv7yvqza37uvfcvk5zdxyo57xlfdi",
			"bafyreiafe2tt3xhvufat3peri6qjqkjrv55fuxbnwtrjbfce5zdnbsdisy",
		}, out.Canonical)
		assert.Len(t, out.Nullified, 4)
	})

	t.Run("explicit did", func(t *testing.T) {
		out, err := verifyLog(ctx, testValidator(), "did:plc:oky5czdrnfjpqslsw2a5iclo", openFixture(t, "audit_log_legacy.json"))
		require.NoError(t, err)
		assert.Len(t, out.Canonical, 4)
		assert.Empty(t, out.Nullified)

		var buf bytes.Buffer
		require.NoError(t, writeVerifyOutput(&buf, out))
		assert.Contains(t, buf.String(), `"nullified": []`)

		var decoded verifyOutput
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, out.Canonical, decoded.Canonical)
	})

	t.Run("wrong did", func(t *testing.T) {
		_, err := verifyLog(ctx, testValidator(), "did:plc:pkmfz5soq2swsvbhvjekb36g", openFixture(t, "audit_log_legacy.json"))
		require.ErrorContains(t, err, "audit log belongs to")
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := verifyLog(ctx, testValidator(), "", strings.NewReader("nope"))
		assert.True(t, plc.IsKind(err, plc.KindMalformed))
	})
}

func TestGenesisEntry(t *testing.T) {
	key, err := crypto.GeneratePrivateKeyK256()
	require.NoError(t, err)

	entry, err := genesisEntry(key, "alice.test", "https://pds.example.com", time.Now())
	require.NoError(t, err)
	assert.True(t, plc.IsDidPlc(entry.Did))

	b, err := json.Marshal([]plc.IndexedOperation{*entry})
	require.NoError(t, err)

	out, err := verifyLog(context.Background(), testValidator(), entry.Did, bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, []string{entry.Cid.String()}, out.Canonical)
}
