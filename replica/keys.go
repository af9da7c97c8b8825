// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replica

import (
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/path"
)

// Three KV namespaces per §6: state (path -> leaf bytes), acl (derived
// policy index — in this implementation the policy leaves stored under
// state double as that index, scanned directly by PoliciesAt), and docs
// (schema hash and per-peer dot watermark).
const (
	nsState byte = 0x01
	nsDocs  byte = 0x02
)

func stateKey(p path.Path) []byte {
	b := make([]byte, 0, 1+len(p.Bytes()))
	b = append(b, nsState)
	b = append(b, p.Bytes()...)
	return b
}

func docPrefix(doc path.DocID) []byte {
	return stateKey(path.Root(doc))
}

func docsSchemaKey(doc path.DocID) []byte {
	b := make([]byte, 0, 1+32+len("/schema"))
	b = append(b, nsDocs)
	b = append(b, doc[:]...)
	b = append(b, []byte("/schema")...)
	return b
}

func docsWatermarkKey(doc path.DocID, peer dot.PeerID) []byte {
	b := make([]byte, 0, 1+32+4+32)
	b = append(b, nsDocs)
	b = append(b, doc[:]...)
	b = append(b, []byte("/wm/")...)
	b = append(b, peer[:]...)
	return b
}

func docsWatermarkScanPrefix(doc path.DocID) []byte {
	b := make([]byte, 0, 1+32+4)
	b = append(b, nsDocs)
	b = append(b, doc[:]...)
	b = append(b, []byte("/wm/")...)
	return b
}

func putUint64BE(v uint64) []byte {
	b := make([]byte, 8)
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
	return b
}

func getUint64BE(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}
