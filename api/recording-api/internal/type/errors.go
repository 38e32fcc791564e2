// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import "errors"

var (
	// ErrInvalidOptions is returned before any side effect when the requested
	// options cannot be served by the transport or encoder. Not retryable.
	ErrInvalidOptions = errors.New("invalid recording options")

	// ErrConnectionTimeout means the transport did not become ready in time.
	ErrConnectionTimeout = errors.New("voice connection timeout")

	// ErrConnectionError wraps any other failure to join or keep the transport.
	ErrConnectionError = errors.New("voice connection error")

	// ErrDecode is a per-speaker decode failure. It never stops the session.
	ErrDecode = errors.New("speaker decode error")

	// ErrConversionFailure means the intermediate file could not be converted.
	// The intermediate file is kept on disk.
	ErrConversionFailure = errors.New("recording conversion failed")

	// ErrSinkIO is a write failure on a session sink. Fatal for the session.
	ErrSinkIO = errors.New("recording sink io error")

	// ErrSessionCancelled is returned by Start when Stop won the race against
	// a pending connection attempt.
	ErrSessionCancelled = errors.New("recording session cancelled")

	ErrSessionNotFound = errors.New("recording session not found")
	ErrGroupBusy       = errors.New("group already has an active recording session")
)
