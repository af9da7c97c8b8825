// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func testPeer(b byte) (id ids.ID) {
	id[0] = b
	return id
}

func TestDefaultConfigRejectedWithoutPeerID(t *testing.T) {
	c := DefaultConfig()
	require.ErrorIs(t, c.Validate(), ErrMissingPeerID)
}

func TestNewAppliesOptions(t *testing.T) {
	c, err := New(
		WithPeerID(testPeer(1)),
		WithStateDir("/var/lib/crdt"),
		WithMaxFrameSize(2048),
		WithReAdvertiseInterval(5*time.Second),
	)
	require.NoError(t, err)
	require.Equal(t, testPeer(1), c.PeerID)
	require.Equal(t, "/var/lib/crdt", c.StateDir)
	require.Equal(t, 2048, c.MaxFrameSize)
	require.Equal(t, 5*time.Second, c.ReAdvertiseInterval)
}

func TestNewRejectsSmallMaxFrameSize(t *testing.T) {
	_, err := New(WithPeerID(testPeer(1)), WithMaxFrameSize(10))
	require.ErrorIs(t, err, ErrMaxFrameTooSmall)
}

func TestNewRejectsNegativeInterval(t *testing.T) {
	_, err := New(WithPeerID(testPeer(1)), WithReAdvertiseInterval(-time.Second))
	require.ErrorIs(t, err, ErrNegativeInterval)
}

func TestNewRejectsMissingPeerID(t *testing.T) {
	_, err := New()
	require.ErrorIs(t, err, ErrMissingPeerID)
}

func TestDefaultConfigValues(t *testing.T) {
	c := DefaultConfig()
	require.Equal(t, 1<<20, c.MaxFrameSize)
	require.Equal(t, 30*time.Second, c.ReAdvertiseInterval)
}
