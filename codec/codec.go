// Package codec provides the wire encoding used to serialize protocol
// frames between replicas.
package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CodecVersion identifies a wire format revision.
type CodecVersion uint16

const (
	// CurrentVersion is the current codec version.
	CurrentVersion CodecVersion = 0
)

// Codec provides marshaling/unmarshaling for everything sent over the wire.
var Codec = &CBORCodec{}

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// CBORCodec implements canonical CBOR encoding/decoding. Canonical form
// gives every replica the same bytes for the same value, which matters
// for anything hashed or diffed across peers (schema hashes, frame
// digests for transport-level dedup).
type CBORCodec struct{}

// Marshal encodes v under version.
func (c *CBORCodec) Marshal(version CodecVersion, v interface{}) ([]byte, error) {
	if version != CurrentVersion {
		return nil, fmt.Errorf("codec: unsupported version: %d", version)
	}
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v, returning the version it was encoded under.
// CBOR carries no explicit version byte, so the returned version is always
// CurrentVersion; a future incompatible revision would be distinguished by
// a leading tag instead.
func (c *CBORCodec) Unmarshal(data []byte, v interface{}) (CodecVersion, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("codec: empty input")
	}
	err := cbor.Unmarshal(data, v)
	return CurrentVersion, err
}
