package schemas

import "errors"

var (
	// ErrStaleNode means a NodeRef belongs to an older snapshot generation or its node was detached.
	ErrStaleNode = errors.New("stale node reference")
	// ErrHostUnavailable means the page accessor itself failed, for example because the
	// page navigated away or the browser connection dropped mid-call.
	ErrHostUnavailable = errors.New("host page unavailable")
	// ErrNotFound is returned by accessors when a lookup (option, hit test) finds nothing.
	ErrNotFound = errors.New("not found")
	// ErrVisualUnavailable is returned by a VisualVerifier that cannot run.
	ErrVisualUnavailable = errors.New("visual verification unavailable")
	// ErrInvalidTarget rejects malformed target descriptors.
	ErrInvalidTarget = errors.New("invalid target descriptor")
)
