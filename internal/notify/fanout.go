// Package notify creates notification records for mention, ownership,
// progress and comment events, and maintains the unread badge cache.
//
// Fan-out is best-effort relative to the triggering mutation: insert
// failures are logged, partial batches are allowed, and zero recipients is
// a valid empty result rather than an error.
package notify

import (
	"context"
	"log"

	"okrflow/api/internal/directory"
	"okrflow/api/internal/ownership"
	"okrflow/api/internal/store"
	"okrflow/api/internal/util"
)

const snippetLimit = 120

// Context labels stored on notifications for read-time navigation.
const (
	ContextObjective = "OKR"
	ContextComment   = "comment"
)

type Store interface {
	InsertNotifications(ctx context.Context, items []store.Notification) error
}

// Mailer delivers notifications out-of-band. Optional; delivery is
// fire-and-forget and never blocks fan-out.
type Mailer interface {
	IsConfigured() bool
	SendNotificationEmail(to, title, message string) error
}

// ObjectiveRef carries the fields of the triggering objective that fan-out
// needs for notification text and context references.
type ObjectiveRef struct {
	ID    string
	Title string
}

type Service struct {
	store    Store
	resolver directory.Resolver
	badge    *BadgeCache // may be nil
	mailer   Mailer      // may be nil
}

func New(store Store, resolver directory.Resolver, badge *BadgeCache, mailer Mailer) *Service {
	return &Service{store: store, resolver: resolver, badge: badge, mailer: mailer}
}

// batchEntry pairs a notification row with the recipient's email for
// optional outbound delivery.
type batchEntry struct {
	item  store.Notification
	email string
}

// MentionCreated notifies every resolved mention except the author and
// returns the users actually notified, so the comment fan-out on the same
// event can exclude them.
func (s *Service) MentionCreated(ctx context.Context, obj ObjectiveRef, authorID, message string, mentions []string) []store.User {
	if len(mentions) == 0 {
		return nil
	}
	users, err := s.resolver.Resolve(ctx, mentions)
	if err != nil {
		log.Printf("notify: resolve mentions for %s: %v", obj.ID, err)
		return nil
	}

	var recipients []store.User
	var batch []batchEntry
	for _, user := range users {
		if user.ID == authorID {
			continue
		}
		recipients = append(recipients, user)
		batch = append(batch, batchEntry{
			email: user.Email,
			item: store.Notification{
				ID:           util.NewID("ntf"),
				RecipientID:  user.ID,
				Type:         store.NotificationMention,
				Title:        "You were mentioned on \"" + obj.Title + "\"",
				Message:      snippet(message),
				ContextLabel: ContextObjective,
				ContextID:    obj.ID,
			},
		})
	}
	s.insert(ctx, obj.ID, batch)
	return recipients
}

// CommentCreated notifies the resolved objective owners, excluding the
// comment author and anyone already notified via mention on the same event.
func (s *Service) CommentCreated(ctx context.Context, obj ObjectiveRef, authorID, message string, owners []string, alreadyNotified []store.User) {
	users, err := s.resolver.Resolve(ctx, owners)
	if err != nil {
		log.Printf("notify: resolve owners for %s: %v", obj.ID, err)
		return
	}

	skip := make(map[string]struct{}, len(alreadyNotified)+1)
	skip[authorID] = struct{}{}
	for _, user := range alreadyNotified {
		skip[user.ID] = struct{}{}
	}

	var batch []batchEntry
	for _, user := range users {
		if _, ok := skip[user.ID]; ok {
			continue
		}
		batch = append(batch, batchEntry{
			email: user.Email,
			item: store.Notification{
				ID:           util.NewID("ntf"),
				RecipientID:  user.ID,
				Type:         store.NotificationComment,
				Title:        "New comment on \"" + obj.Title + "\"",
				Message:      snippet(message),
				ContextLabel: ContextObjective,
				ContextID:    obj.ID,
			},
		})
	}
	s.insert(ctx, obj.ID, batch)
}

// OwnershipChanged notifies each resolved added owner and each resolved
// removed owner. Labels appearing on both sides were filtered out by the
// diff already.
func (s *Service) OwnershipChanged(ctx context.Context, obj ObjectiveRef, diff ownership.Diff) {
	if diff.Empty() {
		return
	}
	var batch []batchEntry
	batch = append(batch, s.ownerBatch(ctx, obj, diff.Added,
		"You were added as an owner of \""+obj.Title+"\"")...)
	batch = append(batch, s.ownerBatch(ctx, obj, diff.Removed,
		"You were removed as an owner of \""+obj.Title+"\"")...)
	s.insert(ctx, obj.ID, batch)
}

func (s *Service) ownerBatch(ctx context.Context, obj ObjectiveRef, labels []string, message string) []batchEntry {
	if len(labels) == 0 {
		return nil
	}
	users, err := s.resolver.Resolve(ctx, labels)
	if err != nil {
		log.Printf("notify: resolve owner labels for %s: %v", obj.ID, err)
		return nil
	}
	var batch []batchEntry
	for _, user := range users {
		batch = append(batch, batchEntry{
			email: user.Email,
			item: store.Notification{
				ID:           util.NewID("ntf"),
				RecipientID:  user.ID,
				Type:         store.NotificationOwner,
				Title:        "Objective ownership updated",
				Message:      message,
				ContextLabel: ContextObjective,
				ContextID:    obj.ID,
			},
		})
	}
	return batch
}

// ProgressChanged notifies every resolved owner with a caller-supplied
// message. Covers key-result status changes and objective-level progress or
// status changes.
func (s *Service) ProgressChanged(ctx context.Context, obj ObjectiveRef, owners []string, message string) {
	users, err := s.resolver.Resolve(ctx, owners)
	if err != nil {
		log.Printf("notify: resolve owners for %s: %v", obj.ID, err)
		return
	}
	var batch []batchEntry
	for _, user := range users {
		batch = append(batch, batchEntry{
			email: user.Email,
			item: store.Notification{
				ID:           util.NewID("ntf"),
				RecipientID:  user.ID,
				Type:         store.NotificationProgress,
				Title:        "Progress update on \"" + obj.Title + "\"",
				Message:      message,
				ContextLabel: ContextObjective,
				ContextID:    obj.ID,
			},
		})
	}
	s.insert(ctx, obj.ID, batch)
}

func (s *Service) insert(ctx context.Context, objectiveID string, batch []batchEntry) {
	if len(batch) == 0 {
		return
	}
	items := make([]store.Notification, len(batch))
	for i, entry := range batch {
		items[i] = entry.item
	}
	if err := s.store.InsertNotifications(ctx, items); err != nil {
		// Partial failure: sibling rows were still written.
		log.Printf("notify: insert batch for %s: %v", objectiveID, err)
	}
	if s.badge != nil {
		for _, entry := range batch {
			if err := s.badge.Invalidate(ctx, entry.item.RecipientID); err != nil {
				log.Printf("notify: invalidate badge for %s: %v", entry.item.RecipientID, err)
			}
		}
	}
	s.deliver(batch)
}

// deliver emails each notification when a mailer is configured. Outbound
// delivery is an external concern; it runs detached from the request.
func (s *Service) deliver(batch []batchEntry) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	go func() {
		for _, entry := range batch {
			if entry.email == "" {
				continue
			}
			if err := s.mailer.SendNotificationEmail(entry.email, entry.item.Title, entry.item.Message); err != nil {
				log.Printf("notify: email %s: %v", entry.email, err)
			}
		}
	}()
}

func snippet(message string) string {
	if len(message) <= snippetLimit {
		return message
	}
	return message[:snippetLimit] + "..."
}
