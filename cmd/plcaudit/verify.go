package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/haileyok/plcaudit/plc"
)

type verifyOutput struct {
	Canonical []string `json:"canonical"`
	Nullified []string `json:"nullified"`
}

// verifyLog reads an audit log from r and folds it with v. An empty did
// accepts whatever did the log names.
func verifyLog(ctx context.Context, v *plc.Validator, did string, r io.Reader) (*verifyOutput, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	log, err := plc.ParseAuditLog(b)
	if err != nil {
		return nil, err
	}

	if did == "" {
		did = log[0].Did
	} else if log[0].Did != did {
		return nil, fmt.Errorf("audit log belongs to %s, not %s", log[0].Did, did)
	}

	res, err := v.ValidateLog(ctx, did, log)
	if err != nil {
		return nil, err
	}

	out := &verifyOutput{
		Canonical: make([]string, 0, len(res.Canonical)),
		Nullified: make([]string, 0, len(res.Nullified)),
	}
	for _, op := range res.Canonical {
		out.Canonical = append(out.Canonical, op.Cid.String())
	}
	for _, op := range res.Nullified {
		out.Nullified = append(out.Nullified, op.Cid.String())
	}

	return out, nil
}

func writeVerifyOutput(w io.Writer, out *verifyOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
