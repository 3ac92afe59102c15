package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/crypto"
	"github.com/haileyok/plcaudit/plc"
	"github.com/urfave/cli/v2"
)

var createRotationKey = &cli.Command{
	Name:  "create-rotation-key",
	Usage: "creates a k256 rotation key for signing test operations",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "out",
			Required: true,
			Usage:    "output file for the rotation key",
		},
	},
	Action: func(cmd *cli.Context) error {
		key, err := crypto.GeneratePrivateKeyK256()
		if err != nil {
			return err
		}

		if err := os.WriteFile(cmd.String("out"), key.Bytes(), 0600); err != nil {
			return err
		}

		return nil
	},
}

var signGenesis = &cli.Command{
	Name:  "sign-genesis",
	Usage: "prints a single entry audit log for a new did signed with a rotation key",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "rotation-key",
			Required: true,
			Usage:    "file written by create-rotation-key",
		},
		&cli.StringFlag{
			Name:     "handle",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "pds",
			Required: true,
			Usage:    "pds endpoint, e.g. https://pds.example.com",
		},
	},
	Action: func(cmd *cli.Context) error {
		b, err := os.ReadFile(cmd.String("rotation-key"))
		if err != nil {
			return fmt.Errorf("reading rotation key: %w", err)
		}

		key, err := crypto.ParsePrivateBytesK256(b)
		if err != nil {
			return fmt.Errorf("parsing rotation key: %w", err)
		}

		entry, err := genesisEntry(key, cmd.String("handle"), cmd.String("pds"), time.Now())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode([]plc.IndexedOperation{*entry})
	},
}

// genesisEntry builds and signs a genesis operation that uses key for both
// rotation and the atproto verification method.
func genesisEntry(key crypto.PrivateKey, handle, pds string, createdAt time.Time) (*plc.IndexedOperation, error) {
	pub, err := key.PublicKey()
	if err != nil {
		return nil, err
	}

	op := plc.Operation{
		Type:         plc.OpTypeOperation,
		RotationKeys: []string{pub.DIDKey()},
		VerificationMethods: map[string]string{
			plc.MethodAtproto: pub.DIDKey(),
		},
		AlsoKnownAs: []string{"at://" + strings.TrimPrefix(handle, "at://")},
		Services: map[string]plc.Service{
			plc.ServiceIDPds: {
				Type:     plc.ServiceTypePds,
				Endpoint: pds,
			},
		},
	}

	if err := plc.SignOperation(key, &op); err != nil {
		return nil, fmt.Errorf("signing genesis operation: %w", err)
	}

	did, err := plc.DidForGenesis(&op)
	if err != nil {
		return nil, err
	}

	c, err := plc.OperationCid(&op)
	if err != nil {
		return nil, err
	}

	return &plc.IndexedOperation{
		Did:       did,
		Operation: op,
		Cid:       c,
		CreatedAt: createdAt.UTC(),
	}, nil
}
