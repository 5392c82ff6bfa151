// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package server

import "net"

func peerUID(net.Conn) (uint32, bool, error) {
	return 0, false, nil
}
