package transfer

import "errors"

// Failure classes surfaced by clients and the snapshot pre-flight. Callers
// match them with errors.Is; the concrete cause rides along in the wrapped
// message. Per-item failures inside a walk are never raised through these —
// they are absorbed into Stats.Skipped where they occur.
var (
	// ErrAuthentication covers bad credentials, unusable key files and
	// servers that reject every offered method.
	ErrAuthentication = errors.New("authentication failed")

	// ErrConnection covers network-level failures: DNS, refused, timeout.
	ErrConnection = errors.New("connection failed")

	// ErrProtocol covers server-side failures after the transport is up.
	ErrProtocol = errors.New("protocol error")

	// ErrValidation covers pre-flight rejections: unknown protocol tags,
	// unreachable remote roots, unusable local roots.
	ErrValidation = errors.New("validation failed")
)
