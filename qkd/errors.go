package qkd

import "errors"

// Sentinel errors for the classical channel.
var (
	// ErrInvalidRange indicates a malformed block range. It is reported
	// before any parity is revealed, so the leakage ledger never moves.
	ErrInvalidRange = errors.New("channel: invalid block range")

	// ErrChannelUnavailable indicates a transport failure talking to the
	// remote peer. The session must be aborted, not resumed: a lost query
	// would silently corrupt the leakage accounting.
	ErrChannelUnavailable = errors.New("channel: peer unavailable")

	// ErrSessionClosed indicates a parity query outside an open session.
	ErrSessionClosed = errors.New("channel: session not started")
)

// Sentinel errors for reconciliation and amplification policy.
var (
	// ErrUnknownAlgorithm indicates an unrecognized reconciliation preset.
	ErrUnknownAlgorithm = errors.New("cascade: unknown algorithm")

	// ErrQBERTooHigh indicates the estimated error-rate upper bound
	// exceeds the configured abort threshold.
	ErrQBERTooHigh = errors.New("qkd: estimated QBER too high")

	// ErrResidualErrors indicates the pass budget was exhausted with
	// residual errors remaining; the key must not be hashed.
	ErrResidualErrors = errors.New("cascade: residual errors after reconciliation")

	// ErrInsufficientKey indicates the secure-length formula produced
	// zero bits, so no output key can be extracted.
	ErrInsufficientKey = errors.New("amplify: insufficient key material")
)
