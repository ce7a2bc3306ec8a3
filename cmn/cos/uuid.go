// Package cos provides common low-level types and utilities shared by
// every package in this module, adapted from the teacher's cmn/cos.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/teris-io/shortid"
)

// Alphabet for generating UUIDs, same shape as the teacher's
// shortid.DEFAULT_ABC-derived alphabet.
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

// LenShortID is the nominal length of a shortid-generated token
// (https://github.com/teris-io/shortid#id-length).
const LenShortID = 9

var sid *shortid.Shortid

// InitUUIDSource reseeds the UUID generator with seed. The package's
// init seeds it with 1; nothing else in this module reseeds it.
func InitUUIDSource(seed uint64) {
	sid = shortid.MustNew(1 /*worker*/, uuidABC, seed)
}

func init() { InitUUIDSource(1) }

// GenGoalID mints the correlation ID threaded through service calls
// and connect-task log lines (the "one global datum" Design Notes
// calls for: a monotonically increasing sequence used for goal IDs,
// here layered with a shortid suffix for cross-process uniqueness).
func GenGoalID(seq uint64) string {
	return fmt.Sprintf("%d-%s", seq, sid.MustGenerate())
}

func IsValidUUID(uuid string) bool { return len(uuid) >= LenShortID }

// GenDaemonID produces this node's random, stable-for-the-process ID.
func GenDaemonID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
