package plc

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/bluesky-social/indigo/atproto/crypto"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/go-playground/validator"
)

var didPlcRegex = regexp.MustCompile(`^did:plc:[a-z2-7]{24}$`)

type operationSchema struct {
	Prev                *string            `validate:"omitempty,min=1"`
	Sig                 string             `validate:"required"`
	RotationKeys        []string           `validate:"required,min=1,max=10,unique,dive,did-key"`
	VerificationMethods map[string]string  `validate:"required,dive,keys,max=32,endkeys,did-key"`
	AlsoKnownAs         []string           `validate:"required,max=10,unique,dive,max=256"`
	Services            map[string]Service `validate:"required,max=10,dive,keys,max=32,endkeys"`
}

type createSchema struct {
	Sig         string `validate:"required"`
	SigningKey  string `validate:"required,did-key"`
	RecoveryKey string `validate:"required,did-key"`
	Handle      string `validate:"required,max=256"`
	Service     string `validate:"required,max=512"`
}

type tombstoneSchema struct {
	Prev *string `validate:"required,min=1"`
	Sig  string  `validate:"required"`
}

// RegisterValidations adds the did-plc and did-key rules to vdtor.
func RegisterValidations(vdtor *validator.Validate) {
	vdtor.RegisterValidation("did-plc", func(fl validator.FieldLevel) bool {
		return IsDidPlc(fl.Field().String())
	})
	vdtor.RegisterValidation("did-key", func(fl validator.FieldLevel) bool {
		if _, err := crypto.ParsePublicDIDKey(fl.Field().String()); err != nil {
			return false
		}
		return true
	})
}

var schema = func() *validator.Validate {
	vdtor := validator.New()
	RegisterValidations(vdtor)
	return vdtor
}()

func IsDidPlc(s string) bool {
	if _, err := syntax.ParseDID(s); err != nil {
		return false
	}
	return didPlcRegex.MatchString(s)
}

// CheckOperation enforces the published limits on an operation's shape.
// genesis selects which operation types are acceptable.
func CheckOperation(op *Operation, genesis bool) error {
	switch op.Type {
	case OpTypeOperation:
		if op.SigningKey != "" || op.RecoveryKey != "" || op.Handle != "" || op.Service != "" {
			return fmt.Errorf("plc_operation carries legacy create fields")
		}
		return schema.Struct(operationSchema{
			Prev:                op.Prev,
			Sig:                 op.Sig,
			RotationKeys:        op.RotationKeys,
			VerificationMethods: op.VerificationMethods,
			AlsoKnownAs:         op.AlsoKnownAs,
			Services:            op.Services,
		})

	case OpTypeCreate:
		if !genesis {
			return fmt.Errorf("create is only valid as the first operation")
		}
		if op.Prev != nil {
			return fmt.Errorf("create must have a null prev")
		}
		if hasOperationFields(op) {
			return fmt.Errorf("create carries plc_operation fields")
		}
		return schema.Struct(createSchema{
			Sig:         op.Sig,
			SigningKey:  op.SigningKey,
			RecoveryKey: op.RecoveryKey,
			Handle:      op.Handle,
			Service:     op.Service,
		})

	case OpTypeTombstone:
		if genesis {
			return fmt.Errorf("tombstone can't be the first operation")
		}
		if hasOperationFields(op) || op.SigningKey != "" || op.RecoveryKey != "" || op.Handle != "" || op.Service != "" {
			return fmt.Errorf("tombstone carries fields besides prev and sig")
		}
		return schema.Struct(tombstoneSchema{
			Prev: op.Prev,
			Sig:  op.Sig,
		})
	}

	return fmt.Errorf("unknown operation type %q", op.Type)
}

func hasOperationFields(op *Operation) bool {
	return op.RotationKeys != nil || op.VerificationMethods != nil || op.AlsoKnownAs != nil || op.Services != nil
}

// ParseAuditLog decodes and shape-checks the JSON served by a directory's
// /:did/log/audit endpoint. It does not validate hashes or signatures.
func ParseAuditLog(b []byte) ([]IndexedOperation, error) {
	var log []IndexedOperation
	if err := json.Unmarshal(b, &log); err != nil {
		return nil, &Error{Kind: KindMalformed, Reason: "invalid audit log", Cause: err}
	}

	if len(log) == 0 {
		return nil, &Error{Kind: KindMalformed, Reason: "empty operation log"}
	}

	did := log[0].Did
	if !IsDidPlc(did) {
		return nil, improperOperation(&log[0], fmt.Sprintf("invalid did %q", did))
	}

	for i := range log {
		iop := &log[i]
		if iop.Did != did {
			return nil, improperOperation(iop, fmt.Sprintf("did %q does not match log did %q", iop.Did, did))
		}

		if err := CheckOperation(&iop.Operation, i == 0); err != nil {
			return nil, &Error{
				Kind:   KindMalformed,
				Cid:    iop.Cid.String(),
				Reason: "invalid operation",
				Cause:  schemaError(err),
			}
		}
	}

	return log, nil
}

func schemaError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		return fmt.Errorf("field %s failed %s", first.Namespace(), first.Tag())
	}
	return err
}
