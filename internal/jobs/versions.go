package jobs

import (
	"github.com/LIT-Protocol/morphomax/internal/abilities"
)

// ResolveRunVersion reconciles the version a job was bound at with the version
// the wallet currently permits, and returns the version this run must execute
// at. Users change their grant between runs; the live grant always wins when
// this service can serve it.
//
// A permitted version of zero means the grant was revoked. A permitted version
// with no registered executor cannot be served at all. Both are fatal: the job
// must be disabled, not retried.
func ResolveRunVersion(boundVersion, permittedVersion int) (int, error) {
	if permittedVersion == 0 {
		return 0, fatal(ErrPermissionRevoked)
	}
	if permittedVersion == boundVersion {
		if !abilities.IsSupported(boundVersion) {
			return 0, fatalf("%w: version %d has no executor", ErrIncompatibleVersion, boundVersion)
		}
		return boundVersion, nil
	}
	if !abilities.IsSupported(permittedVersion) {
		return 0, fatalf("%w: wallet moved from version %d to unsupported version %d",
			ErrIncompatibleVersion, boundVersion, permittedVersion)
	}
	return permittedVersion, nil
}
