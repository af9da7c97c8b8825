// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transportmock is a gomock-generated-style mock of
// transport.Transport, for tests that need to assert on Send calls or
// inject transport failures without a real network.
package transportmock

import (
	"context"
	"reflect"

	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/transport"
	"go.uber.org/mock/gomock"
)

// Transport mocks transport.Transport.
type Transport struct {
	ctrl     *gomock.Controller
	recorder *TransportMockRecorder
}

// TransportMockRecorder is the mock recorder for Transport.
type TransportMockRecorder struct {
	mock *Transport
}

// NewTransport returns a new mock Transport.
func NewTransport(ctrl *gomock.Controller) *Transport {
	m := &Transport{ctrl: ctrl}
	m.recorder = &TransportMockRecorder{m}
	return m
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *Transport) EXPECT() *TransportMockRecorder {
	return m.recorder
}

// Send mocks base method.
func (m *Transport) Send(ctx context.Context, peer dot.PeerID, data []byte) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Send", ctx, peer, data)
	ret0, _ := ret[0].(error)
	return ret0
}

// Send indicates an expected call of Send.
func (mr *TransportMockRecorder) Send(ctx, peer, data any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Send", reflect.TypeOf((*Transport)(nil).Send), ctx, peer, data)
}

// Recv mocks base method.
func (m *Transport) Recv(ctx context.Context) (<-chan transport.Message, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Recv", ctx)
	ret0, _ := ret[0].(<-chan transport.Message)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Recv indicates an expected call of Recv.
func (mr *TransportMockRecorder) Recv(ctx any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Recv", reflect.TypeOf((*Transport)(nil).Recv), ctx)
}

// LocalAddresses mocks base method.
func (m *Transport) LocalAddresses() []string {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "LocalAddresses")
	ret0, _ := ret[0].([]string)
	return ret0
}

// LocalAddresses indicates an expected call of LocalAddresses.
func (mr *TransportMockRecorder) LocalAddresses() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "LocalAddresses", reflect.TypeOf((*Transport)(nil).LocalAddresses))
}

var _ transport.Transport = (*Transport)(nil)
