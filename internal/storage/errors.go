package storage

import "errors"

// Sentinel errors returned by backends. Callers classify with errors.Is:
//
//   - ErrNotFound means the key is genuinely absent or expired. It is an
//     expected condition, not a failure.
//   - ErrBackendUnavailable means the backend itself could not serve the
//     request (network down, disk error, timeout). It must never be
//     reported as ErrNotFound: that conflation has historically cost
//     hours of debugging the wrong layer, because a dead backend then
//     looks identical to an expired conversation.
//   - ErrCorruptEntry means a stored value could not be parsed. The file
//     backend recovers from it locally (logs, deletes, reports absent);
//     it is exported so tests can assert the recovery path.
//   - ErrInvalidTTL rejects Set calls with a non-positive TTL.
var (
	ErrNotFound           = errors.New("storage: key not found")
	ErrBackendUnavailable = errors.New("storage: backend unavailable")
	ErrCorruptEntry       = errors.New("storage: corrupt entry")
	ErrInvalidTTL         = errors.New("storage: ttl must be positive")
)

// unavailable wraps err so that errors.Is(err, ErrBackendUnavailable)
// holds while the underlying cause stays inspectable.
func unavailable(err error) error {
	return errors.Join(ErrBackendUnavailable, err)
}
