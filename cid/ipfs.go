package cid

import (
	ipfscid "github.com/ipfs/go-cid"
)

// ToIPFS converts c for use with go-ipfs style block stores and CAR tooling.
func (c CID) ToIPFS() (ipfscid.Cid, error) {
	if !c.Defined() {
		return ipfscid.Undef, nil
	}
	return ipfscid.Cast(c.raw)
}

// FromIPFS accepts only CIDs inside the supported subset.
func FromIPFS(c ipfscid.Cid) (CID, error) {
	return Decode(c.Bytes())
}
