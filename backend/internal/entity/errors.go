package entity

import (
	"errors"

	"collabClient/backend/internal/ot/delta"
)

var (
	ErrMalformedPayload  = errors.New("MALFORMED_PAYLOAD")
	ErrOutOfRange        = delta.ErrOutOfRange
	ErrUnreachable       = errors.New("WORKER_UNREACHABLE")
	ErrIdentity          = errors.New("IDENTITY_RESOLUTION_FAILED")
	ErrPersistence       = errors.New("PERSISTENCE_FAILED")
	ErrRevisionConflict  = errors.New("REVISION_CONFLICT")
	ErrChainBroken       = errors.New("REVISION_CHAIN_BROKEN")
	ErrDuplicateRevision = errors.New("DUPLICATE_REVISION")
	ErrRangeUnavailable  = errors.New("REVISION_RANGE_UNAVAILABLE")
	ErrSessionClosed     = errors.New("SESSION_CLOSED")
	ErrNotConnected      = errors.New("NOT_CONNECTED")
)
