// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package rpctype contains types of messages between the coverage
// server and fuzzer processes.
package rpctype

import "github.com/lepusfuzz/lepus/pkg/cover"

// NewCoverageArgs reports coverage the fuzzer observed. Sample is nil
// for variable (non-reproducible) coverage: the server records the
// offsets but does not distribute anything.
type NewCoverageArgs struct {
	Coverage cover.Serial
	Sample   []byte
}

type CrashArgs struct {
	Sample []byte
	Name   string
}

// UpdatesArgs asks for corpus samples this client has not seen yet.
// Client is a session token the client generates once at startup.
type UpdatesArgs struct {
	Client     string
	TotalExecs uint64
}

type UpdatesRes struct {
	Samples [][]byte
}
