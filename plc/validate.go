package plc

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/haileyok/plcaudit/cid"
)

// RecoveryWindow is how long after a disputed operation a more powerful
// rotation key may still fork it away.
const RecoveryWindow = 72 * time.Hour

type Options struct {
	// Verifier checks signatures. Defaults to a lenient KeyVerifier.
	Verifier Verifier
	Logger   *slog.Logger

	// StrictNullifiedFlags rejects a recovery whose displaced operations the
	// source did not flag as nullified. The partition is recomputed either way.
	StrictNullifiedFlags bool
}

// Validator replays did:plc audit logs. It holds no per-log state and is safe
// for concurrent use across logs.
type Validator struct {
	verifier Verifier
	logger   *slog.Logger
	strict   bool
}

func NewValidator(opts Options) *Validator {
	if opts.Verifier == nil {
		opts.Verifier = KeyVerifier{Lenient: true}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Validator{
		verifier: opts.Verifier,
		logger:   opts.Logger.With("component", "plc-validator"),
		strict:   opts.StrictNullifiedFlags,
	}
}

// Step is the outcome of applying one operation to a canonical history.
type Step struct {
	Canonical []IndexedOperation
	Nullified []IndexedOperation
}

// ValidateLog folds log into its canonical chain and the operations that
// recoveries nullified along the way. On error no partial result is returned.
func (v *Validator) ValidateLog(ctx context.Context, did string, log []IndexedOperation) (*Result, error) {
	if len(log) == 0 {
		return nil, &Error{Kind: KindMalformed, Reason: "empty operation log"}
	}

	var canonical, nullified []IndexedOperation
	for i := range log {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		step, err := v.ValidateOperation(ctx, did, canonical, &log[i])
		if err != nil {
			return nil, err
		}

		canonical = step.Canonical
		nullified = append(nullified, step.Nullified...)
	}

	for _, op := range canonical {
		if op.Nullified {
			v.logger.Warn("canonical operation flagged as nullified by source", "did", did, "cid", op.Cid.String())
		}
	}

	return &Result{
		Canonical: canonical,
		Nullified: nullified,
	}, nil
}

// ValidateOperation applies proposed on top of history. history is never
// modified; the returned slices are fresh.
func (v *Validator) ValidateOperation(ctx context.Context, did string, history []IndexedOperation, proposed *IndexedOperation) (*Step, error) {
	if proposed.Did != "" && proposed.Did != did {
		return nil, improperOperation(proposed, "operation belongs to "+proposed.Did)
	}

	if len(history) == 0 {
		return v.validateGenesis(ctx, did, proposed)
	}

	if err := checkHash(proposed); err != nil {
		return nil, err
	}

	op := &proposed.Operation
	if op.Type == OpTypeCreate {
		return nil, improperOperation(proposed, "create operations are only valid as genesis")
	}
	if op.Prev == nil {
		return nil, improperOperation(proposed, "expected prev op")
	}

	prev, err := cid.Parse(*op.Prev)
	if err != nil {
		return nil, improperOperation(proposed, "prev is not a valid cid")
	}

	indexOfPrev := slices.IndexFunc(history, func(h IndexedOperation) bool {
		return h.Cid.Equals(prev)
	})
	if indexOfPrev == -1 {
		return nil, improperOperation(proposed, "prev op not in history")
	}

	lastOp := &history[indexOfPrev]
	if lastOp.Operation.IsTombstone() {
		return nil, improperOperation(proposed, "did is tombstoned")
	}

	keys := Normalize(&lastOp.Operation).RotationKeys
	displaced := history[indexOfPrev+1:]

	if len(displaced) == 0 {
		signer, err := signedBy(ctx, v.verifier, keys, op)
		if err != nil {
			return nil, verifyErr(proposed, err)
		}
		if signer == "" {
			return nil, invalidSignature(proposed)
		}

		v.logger.Debug("accepted operation", "did", did, "cid", proposed.Cid.String(), "type", op.Type)

		return &Step{
			Canonical: append(slices.Clone(history), *proposed),
		}, nil
	}

	for i := range displaced {
		if displaced[i].Nullified {
			continue
		}
		if v.strict {
			return nil, improperOperation(&displaced[i], "expected nullified prop to be true")
		}
		v.logger.Warn("nullified operation not flagged by source", "did", did, "cid", displaced[i].Cid.String())
	}

	firstNullified := &displaced[0]

	lapsed := proposed.CreatedAt.Sub(firstNullified.CreatedAt)
	if lapsed > RecoveryWindow {
		return nil, lateRecovery(proposed, lapsed)
	}

	disputedSigner, err := signedBy(ctx, v.verifier, keys, &firstNullified.Operation)
	if err != nil {
		return nil, verifyErr(firstNullified, err)
	}
	if disputedSigner == "" {
		return nil, invalidSignature(firstNullified)
	}

	morePowerful := keys[:slices.Index(keys, disputedSigner)]

	signer, err := signedBy(ctx, v.verifier, morePowerful, op)
	if err != nil {
		return nil, verifyErr(proposed, err)
	}
	if signer == "" {
		return nil, invalidSignature(proposed)
	}

	v.logger.Info("recovery nullified operations",
		"did", did,
		"cid", proposed.Cid.String(),
		"prev", *op.Prev,
		"count", len(displaced),
		"lapsed", lapsed,
	)

	return &Step{
		Canonical: append(slices.Clone(history[:indexOfPrev+1]), *proposed),
		Nullified: slices.Clone(displaced),
	}, nil
}

func (v *Validator) validateGenesis(ctx context.Context, did string, proposed *IndexedOperation) (*Step, error) {
	op := &proposed.Operation

	if op.IsTombstone() {
		return nil, improperOperation(proposed, "expected genesis op to not be tombstone")
	}
	if op.Prev != nil {
		return nil, improperOperation(proposed, "expected null prev on genesis op")
	}

	if err := checkHash(proposed); err != nil {
		return nil, err
	}

	expectedDid, err := DidForGenesis(op)
	if err != nil {
		return nil, codecError(proposed, err)
	}
	if expectedDid != did {
		return nil, genesisHash(proposed, did)
	}

	signer, err := signedBy(ctx, v.verifier, Normalize(op).RotationKeys, op)
	if err != nil {
		return nil, verifyErr(proposed, err)
	}
	if signer == "" {
		return nil, invalidSignature(proposed)
	}

	v.logger.Debug("accepted genesis operation", "did", did, "cid", proposed.Cid.String(), "type", op.Type)

	return &Step{
		Canonical: []IndexedOperation{*proposed},
	}, nil
}

func checkHash(proposed *IndexedOperation) error {
	expected, err := OperationCid(&proposed.Operation)
	if err != nil {
		return codecError(proposed, err)
	}

	if !expected.Equals(proposed.Cid) {
		return invalidHash(proposed, expected.String())
	}

	return nil
}

// verifyErr keeps cancellation errors as they are and files anything
// else under the codec kind.
func verifyErr(op *IndexedOperation, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return codecError(op, err)
}
