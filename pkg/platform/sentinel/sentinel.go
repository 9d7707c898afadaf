package sentinel

import "errors"

// Sentinel errors for infrastructure and device facts. Stores, radios and
// bridges return these (optionally wrapped) so services can branch with errors.Is.
//
// These describe states, not validation failures:
// - ErrNotFound: document or record does not exist
// - ErrUnavailable: identity, remote store or platform collaborator cannot be reached
// - ErrInvalidState: operation not allowed right now (e.g. a scan session already running)
// - ErrPoweredOff: the radio reported it is switched off
// - ErrTimeout: a platform request did not answer in time
// - ErrPermissionDenied: the user has not granted the capability
var (
	ErrNotFound         = errors.New("not found")
	ErrUnavailable      = errors.New("unavailable")
	ErrInvalidState     = errors.New("invalid state")
	ErrPoweredOff       = errors.New("powered off")
	ErrTimeout          = errors.New("timeout")
	ErrPermissionDenied = errors.New("permission denied")
)
