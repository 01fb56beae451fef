package storage

import (
	"github.com/google/uuid"
)

// PairID returns the deterministic reverse-index identifier for a (user, client) pair.
//
// It is a name-based (SHA-1, version 5) UUID with the user as namespace and the
// client ID as name, so the same pair always maps to the same key and different
// pairs never share one. User IDs that are not UUIDs are first mapped into UUID
// space under the OID namespace.
func PairID(userID, clientID string) string {
	ns, err := uuid.Parse(userID)
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceOID, []byte(userID))
	}
	return uuid.NewSHA1(ns, []byte(clientID)).String()
}
