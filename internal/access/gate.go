// Package access implements the owner-or-creator gate guarding objective
// mutation and deletion.
package access

import (
	"errors"
	"strings"
)

var (
	// ErrUnauthorized means no actor context was supplied with the request.
	ErrUnauthorized = errors.New("no actor context")
	// ErrForbidden means the actor is neither an owner nor the creator.
	ErrForbidden = errors.New("actor is not an owner or the creator")
)

// Actor is the opaque identity triple handed in by the auth layer, plus the
// display name needed for owner-label matching.
type Actor struct {
	ID    string
	Email string
	Name  string
	Role  string
}

// CheckMutate allows the mutation when the actor's email or full name matches
// any owner label (case-insensitive, trimmed), or when the actor created the
// objective. The legacy single owner field is owners[0], so matching against
// the owner list covers it.
func CheckMutate(actor Actor, owners []string, createdBy string) error {
	if actor.ID == "" && actor.Email == "" {
		return ErrUnauthorized
	}
	if OwnerMatch(actor, owners) || (actor.ID != "" && actor.ID == createdBy) {
		return nil
	}
	return ErrForbidden
}

// OwnerMatch reports whether the actor's email or "first last" name equals
// any owner label, case-insensitively.
func OwnerMatch(actor Actor, owners []string) bool {
	email := normalize(actor.Email)
	name := normalize(actor.Name)
	for _, owner := range owners {
		label := normalize(owner)
		if label == "" {
			continue
		}
		if (email != "" && label == email) || (name != "" && label == name) {
			return true
		}
	}
	return false
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
