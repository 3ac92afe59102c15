package plc

import (
	"maps"
	"slices"
	"strings"
)

const (
	ServiceIDPds   = "atproto_pds"
	ServiceTypePds = "AtprotoPersonalDataServer"
	MethodAtproto  = "atproto"
)

func wrapHttpPrefix(s string) string {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	return "https://" + s
}

func wrapAtprotoPrefix(s string) string {
	if strings.HasPrefix(s, "at://") {
		return s
	}

	s = strings.Replace(s, "http://", "", 1)
	s = strings.Replace(s, "https://", "", 1)
	return "at://" + s
}

// Normalize returns op in plc_operation form. Legacy create operations are
// expanded; anything else is returned as a copy with its own slices and maps.
// The result is only meant for reading keys and services: hashes and
// signatures are always computed over the operation as it was published.
func Normalize(op *Operation) Operation {
	if op.Type == OpTypeCreate {
		return Operation{
			Type:         OpTypeOperation,
			Prev:         op.Prev,
			Sig:          op.Sig,
			RotationKeys: []string{op.RecoveryKey, op.SigningKey},
			VerificationMethods: map[string]string{
				MethodAtproto: op.SigningKey,
			},
			AlsoKnownAs: []string{wrapAtprotoPrefix(op.Handle)},
			Services: map[string]Service{
				ServiceIDPds: {
					Type:     ServiceTypePds,
					Endpoint: wrapHttpPrefix(op.Service),
				},
			},
		}
	}

	out := *op
	out.RotationKeys = slices.Clone(op.RotationKeys)
	out.AlsoKnownAs = slices.Clone(op.AlsoKnownAs)
	out.VerificationMethods = maps.Clone(op.VerificationMethods)
	out.Services = maps.Clone(op.Services)
	return out
}
