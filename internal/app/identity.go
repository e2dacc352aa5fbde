package app

import "github.com/google/uuid"

// Principal identifies who is acting. Anonymous principals get a generated
// id so their edits and events still carry a stable actor.
type Principal struct {
	ID        string
	Name      string
	Anonymous bool
}

// AnonymousPrincipal mints a fresh anonymous identity.
func AnonymousPrincipal() Principal {
	return Principal{
		ID:        "anon-" + uuid.New().String(),
		Name:      "Anonymous",
		Anonymous: true,
	}
}
