// Package identity maps opaque external user ids to the stable internal
// ids the repository keys on.
package identity

import (
	"crypto/md5"

	"github.com/google/uuid"
)

// InternalID derives the canonical internal id for an external user id:
// the 128-bit MD5 digest of the id's UTF-8 bytes rendered in 8-4-4-4-12
// hex form. The mapping is deterministic across processes and restarts.
// MD5 is used as a digest here, not for security; collisions are not a
// threat model for id mapping.
func InternalID(externalID string) string {
	sum := md5.Sum([]byte(externalID))
	return uuid.UUID(sum).String()
}
