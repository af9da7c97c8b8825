// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/luxfi/crdt/dot"
)

var policyEncMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

type wirePolicy struct {
	Kind       PolicyKind
	Subject    dot.PeerID
	Permission Permission
	Condition  string `cbor:",omitempty"`
	Revokes    dot.Dot
}

// EncodePolicySet serializes the set of policies stamped at one dot,
// used as the value bytes of a Policy leaf in the flat store.
func EncodePolicySet(policies []Policy) ([]byte, error) {
	wire := make([]wirePolicy, len(policies))
	for i, p := range policies {
		wire[i] = wirePolicy{Kind: p.Kind, Subject: p.Subject, Permission: p.Permission, Condition: p.Condition, Revokes: p.Revokes}
	}
	return policyEncMode.Marshal(wire)
}

// DecodePolicySet parses the bytes produced by EncodePolicySet.
func DecodePolicySet(data []byte) ([]Policy, error) {
	var wire []wirePolicy
	if err := cbor.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("store: decode policy set: %w", err)
	}
	out := make([]Policy, len(wire))
	for i, w := range wire {
		out[i] = Policy{Kind: w.Kind, Subject: w.Subject, Permission: w.Permission, Condition: w.Condition, Revokes: w.Revokes}
	}
	return out, nil
}
