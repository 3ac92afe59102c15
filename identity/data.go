package identity

import (
	"errors"
	"fmt"

	"github.com/haileyok/plcaudit/plc"
)

var (
	ErrTombstoned = errors.New("did is tombstoned")
	ErrNoHistory  = errors.New("no canonical operations")
)

// DataFromResult derives the identity's current state from the tip of a
// validated log.
func DataFromResult(did string, res *plc.Result) (*DidData, error) {
	tip := res.Tip()
	if tip == nil {
		return nil, ErrNoHistory
	}

	if tip.Operation.IsTombstone() {
		return nil, fmt.Errorf("%w: %s", ErrTombstoned, did)
	}

	op := plc.Normalize(&tip.Operation)

	services := make(map[string]OperationService, len(op.Services))
	for id, svc := range op.Services {
		services[id] = OperationService{
			Type:     svc.Type,
			Endpoint: svc.Endpoint,
		}
	}

	data := &DidData{
		Did:                 did,
		VerificationMethods: op.VerificationMethods,
		RotationKeys:        op.RotationKeys,
		AlsoKnownAs:         op.AlsoKnownAs,
		Services:            services,
	}

	if data.VerificationMethods == nil {
		data.VerificationMethods = map[string]string{}
	}
	if data.RotationKeys == nil {
		data.RotationKeys = []string{}
	}
	if data.AlsoKnownAs == nil {
		data.AlsoKnownAs = []string{}
	}

	return data, nil
}
