// Package directory resolves free-text labels (names, emails, email
// prefixes) against the user directory. Matching is approximate by design:
// ambiguous or unknown labels yield zero users, never an error.
package directory

import (
	"context"
	"strings"

	"okrflow/api/internal/store"
)

// Store is the candidate source: a case-insensitive substring search across
// the directory's textual fields.
type Store interface {
	SearchUsers(ctx context.Context, fragment string) ([]store.User, error)
}

// Resolver matches labels to users. Swappable so the heuristic can be tested
// in isolation from persistence.
type Resolver interface {
	Resolve(ctx context.Context, labels []string) ([]store.User, error)
}

type StoreResolver struct {
	store Store
}

func NewResolver(s Store) *StoreResolver {
	return &StoreResolver{store: s}
}

// Resolve fetches substring candidates per label and keeps only exact
// matches: the label must equal the candidate's email, the email local part,
// bare first or last name, or the "first last" concatenation (all
// case-insensitive). Multi-word labels additionally match first token ==
// first name AND last token == last name. Results are deduplicated by id.
func (r *StoreResolver) Resolve(ctx context.Context, labels []string) ([]store.User, error) {
	seen := make(map[string]struct{})
	matched := make([]store.User, 0, len(labels))

	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		candidates, err := r.store.SearchUsers(ctx, label)
		if err != nil {
			return nil, err
		}
		for _, candidate := range candidates {
			if !labelMatches(label, candidate) {
				continue
			}
			if _, ok := seen[candidate.ID]; ok {
				continue
			}
			seen[candidate.ID] = struct{}{}
			matched = append(matched, candidate)
		}
	}
	return matched, nil
}

func labelMatches(label string, user store.User) bool {
	needle := strings.ToLower(label)
	email := strings.ToLower(user.Email)
	first := strings.ToLower(user.FirstName)
	last := strings.ToLower(user.LastName)

	if needle == email || needle == localPart(email) {
		return true
	}
	if needle == first || needle == last {
		return true
	}
	if needle == strings.TrimSpace(first+" "+last) {
		return true
	}

	tokens := strings.Fields(needle)
	if len(tokens) >= 2 {
		return tokens[0] == first && tokens[len(tokens)-1] == last
	}
	return false
}

func localPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
