// Package cos provides common low-level types and utilities shared by
// every package in this module, adapted from the teacher's cmn/cos.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"net"
	"net/http"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// Kind identifies one of the error kinds enumerated in spec §7. Every
// sentinel below carries a Kind so that a wrapped error (via
// pkg/errors.Wrap) can still be classified with IsKind/errors.Is
// after crossing a package boundary.
type Kind int

const (
	KindHandshakeMismatch Kind = iota
	KindTransport
	KindMalformedHeader
	KindMasterStatus
	KindDuplicateService
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindHandshakeMismatch:
		return "HANDSHAKE_MISMATCH"
	case KindTransport:
		return "TRANSPORT_ERROR"
	case KindMalformedHeader:
		return "MALFORMED_HEADER"
	case KindMasterStatus:
		return "MASTER_ERROR"
	case KindDuplicateService:
		return "DUPLICATE_SERVICE"
	case KindCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// KindErr is the concrete type behind every sentinel in this file;
// IsKind unwraps through pkg/errors-wrapped chains to find one.
type KindErr struct {
	kind Kind
	msg  string
}

func (e *KindErr) Error() string { return e.kind.String() + ": " + e.msg }
func (e *KindErr) Kind() Kind    { return e.kind }

func NewKindErr(k Kind, msg string) *KindErr { return &KindErr{kind: k, msg: msg} }

// IsKind reports whether err (or a cause in its pkg/errors chain) is
// a *KindErr of kind k.
func IsKind(err error, k Kind) bool {
	for err != nil {
		if ke, ok := err.(*KindErr); ok {
			return ke.kind == k
		}
		type causer interface{ Cause() error }
		if c, ok := err.(causer); ok {
			err = c.Cause()
			continue
		}
		err = errors.Unwrap(err)
	}
	return false
}

var (
	ErrHandshakeMismatch = NewKindErr(KindHandshakeMismatch, "digest mismatch")
	ErrTransport         = NewKindErr(KindTransport, "connection failed")
	ErrMalformedHeader   = NewKindErr(KindMalformedHeader, "malformed connection header")
	ErrMasterStatus      = NewKindErr(KindMasterStatus, "non-success status from master")
	ErrDuplicateService  = NewKindErr(KindDuplicateService, "service already advertised")
	ErrCancelled         = NewKindErr(KindCancelled, "cancelled")
)

// Wrapf wraps err with additional context while preserving its Kind
// for IsKind/errors.Is, matching the teacher's pkg/errors usage at
// I/O boundaries.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrapf(err, format, args...)
}

// IsRetriableConnErr reports whether err looks like a transient
// connection failure worth retrying (dial refused/reset, broken pipe).
func IsRetriableConnErr(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		isErrDNSLookup(err)
}

func isErrDNSLookup(err error) bool {
	_, ok := err.(*net.DNSError)
	return ok
}

// IsUnreachable reports whether a master RPC failure is a connectivity
// problem (vs. a well-formed non-success response); masterapi uses it
// to classify an HTTP status as a transport error.
func IsUnreachable(err error, status int) bool {
	return IsRetriableConnErr(err) ||
		isErrDNSLookup(err) ||
		status == http.StatusRequestTimeout ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusBadGateway
}

// Errs accumulates up to maxErrs distinct errors, used by Node.Shutdown
// to collect the shutdown errors of every owned handle while
// de-duplicating identical messages.
type Errs struct {
	errs []error
}

const maxErrs = 8

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

func (e *Errs) Len() int { return len(e.errs) }

func (e *Errs) JoinErr() error {
	if len(e.errs) == 0 {
		return nil
	}
	return errors.Join(e.errs...)
}
