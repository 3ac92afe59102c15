package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"slices"
	"time"

	"github.com/haileyok/plcaudit/dagcbor"
	"github.com/haileyok/plcaudit/plc"
	"golang.org/x/sync/singleflight"
)

type BackingCache interface {
	GetResult(key string) (*plc.Result, bool)
	PutResult(key string, res *plc.Result) error
	BustResult(key string) error
}

type skipCacheKey struct{}

// WithSkipCache makes the Passport revalidate instead of answering from cache.
func WithSkipCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipCacheKey{}, true)
}

// SharedValidationTimeout bounds a validation shared by concurrent callers.
// It runs detached from any single caller's context.
const SharedValidationTimeout = time.Minute

// Passport validates audit logs, remembering the outcome of logs it has
// already seen. Identical concurrent requests share one validation.
type Passport struct {
	bc     BackingCache
	v      *plc.Validator
	sf     singleflight.Group
	logger *slog.Logger
}

func NewPassport(bc BackingCache, v *plc.Validator, logger *slog.Logger) *Passport {
	if logger == nil {
		logger = slog.Default()
	}

	return &Passport{
		bc:     bc,
		v:      v,
		logger: logger.With("component", "passport"),
	}
}

// Validate returns the validated history of log. A caller that gives up only
// abandons its own wait; the shared run continues for everyone else. Returned
// slices are the caller's own, but the operations in them are shared with the
// cache and must not be modified.
func (p *Passport) Validate(ctx context.Context, did string, log []plc.IndexedOperation) (*plc.Result, error) {
	key, err := Fingerprint(did, log)
	if err != nil {
		return nil, err
	}

	skipCache, _ := ctx.Value(skipCacheKey{}).(bool)

	if !skipCache {
		cached, ok := p.bc.GetResult(key)
		if ok {
			return cloneResult(cached), nil
		}
	}

	ch := p.sf.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SharedValidationTimeout)
		defer cancel()

		res, err := p.v.ValidateLog(sctx, did, log)
		if err != nil {
			return nil, err
		}

		if err := p.bc.PutResult(key, res); err != nil {
			p.logger.Warn("failed to cache validation result", "did", did, "error", err)
		}

		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return cloneResult(r.Val.(*plc.Result)), nil
	}
}

// cloneResult gives each caller its own slices over the shared operations.
func cloneResult(res *plc.Result) *plc.Result {
	return &plc.Result{
		Canonical: slices.Clone(res.Canonical),
		Nullified: slices.Clone(res.Nullified),
	}
}

// Data validates log and returns the identity's current state.
func (p *Passport) Data(ctx context.Context, did string, log []plc.IndexedOperation) (*DidData, error) {
	res, err := p.Validate(ctx, did, log)
	if err != nil {
		return nil, err
	}

	return DataFromResult(did, res)
}

func (p *Passport) Bust(ctx context.Context, did string, log []plc.IndexedOperation) error {
	key, err := Fingerprint(did, log)
	if err != nil {
		return err
	}
	return p.bc.BustResult(key)
}

// Fingerprint is a digest of everything validation depends on: the did and,
// for each entry, the signed operation, its claimed cid, its flag and its
// timestamp.
func Fingerprint(did string, log []plc.IndexedOperation) (string, error) {
	entries := make([]any, 0, len(log))
	for i := range log {
		iop := &log[i]
		entries = append(entries, []any{
			iop.Did,
			iop.Operation.Signed(),
			iop.Cid.Bytes(),
			iop.Nullified,
			iop.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	b, err := dagcbor.Encode([]any{did, entries})
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
