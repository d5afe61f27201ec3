package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
)

// Credential is the session's capability token, carried in the wtd
// parameter. Knowing it is what authorizes a request to act on the
// session, so comparisons are constant time.
type Credential struct {
	id string
}

// NewCredential generates a random credential. Panics when the system
// entropy source fails; a server that cannot generate unguessable
// session ids must not serve sessions.
func NewCredential() Credential {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("session: entropy source failed: " + err.Error())
	}
	return Credential{id: hex.EncodeToString(b)}
}

// CredentialFromString wraps an id received from a client. It does not
// validate; only Equal against the real credential does.
func CredentialFromString(s string) Credential { return Credential{id: s} }

// String returns the credential's wire form.
func (c Credential) String() string { return c.id }

// IsZero reports whether the credential is unset.
func (c Credential) IsZero() bool { return c.id == "" }

// Equal compares credentials in constant time.
func (c Credential) Equal(other Credential) bool {
	if len(c.id) != len(other.id) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.id), []byte(other.id)) == 1
}
