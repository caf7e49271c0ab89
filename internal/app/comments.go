package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"okrflow/api/internal/access"
	"okrflow/api/internal/mention"
	"okrflow/api/internal/store"
	"okrflow/api/internal/util"
)

// ListComments returns an objective's comment thread oldest-first. The
// objective must exist so a bad id surfaces as NOT_FOUND, not an empty list.
func (s *Service) ListComments(ctx context.Context, objectiveID string) ([]store.Comment, error) {
	if _, err := s.store.GetObjective(ctx, objectiveID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, objectiveID)
}

// CreateComment snapshots the author identity, extracts mentions and fires
// mention plus comment fan-out. Mentioned users are excluded from the owner
// fan-out for the same event.
func (s *Service) CreateComment(ctx context.Context, objectiveID, message string, author access.Actor) (store.Comment, error) {
	if strings.TrimSpace(message) == "" {
		return store.Comment{}, domainError(http.StatusBadRequest, "INVALID_ARGUMENT", "message is required", nil)
	}
	obj, err := s.store.GetObjective(ctx, objectiveID)
	if err != nil {
		return store.Comment{}, err
	}

	comment := store.Comment{
		ID:          util.NewID("cmt"),
		ObjectiveID: obj.ID,
		AuthorID:    author.ID,
		AuthorName:  author.Name,
		AuthorEmail: author.Email,
		Message:     message,
		Mentions:    mention.Extract(message),
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}

	ref := objectiveRef(obj)
	notified := s.notify.MentionCreated(ctx, ref, author.ID, message, comment.Mentions)
	s.notify.CommentCreated(ctx, ref, author.ID, message, obj.Owners, notified)
	return comment, nil
}

// UpdateComment edits a comment, or a single reply when replyID is set.
// Mentions are re-extracted but edits never fan out notifications.
func (s *Service) UpdateComment(ctx context.Context, commentID, replyID, message string) (store.Comment, error) {
	if strings.TrimSpace(message) == "" {
		return store.Comment{}, domainError(http.StatusBadRequest, "INVALID_ARGUMENT", "message is required", nil)
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, err
	}

	if replyID == "" {
		comment.Message = message
		comment.Mentions = mention.Extract(message)
	} else {
		idx := replyIndex(comment, replyID)
		if idx < 0 {
			return store.Comment{}, domainError(http.StatusNotFound, "NOT_FOUND", "reply not found", nil)
		}
		comment.Replies[idx].Message = message
		comment.Replies[idx].Mentions = mention.Extract(message)
		comment.Replies[idx].UpdatedAt = time.Now().UTC()
	}

	if err := s.store.UpdateComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}
	return comment, nil
}

// DeleteComment removes a whole comment with its replies, or a single reply
// when replyID is set. Deleting a reply returns the updated parent comment;
// deleting the comment returns the zero value.
func (s *Service) DeleteComment(ctx context.Context, commentID, replyID string) (store.Comment, error) {
	if replyID == "" {
		affected, err := s.store.DeleteComment(ctx, commentID)
		if err != nil {
			return store.Comment{}, err
		}
		if !affected {
			return store.Comment{}, domainError(http.StatusNotFound, "NOT_FOUND", "comment not found", nil)
		}
		return store.Comment{}, nil
	}

	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	idx := replyIndex(comment, replyID)
	if idx < 0 {
		return store.Comment{}, domainError(http.StatusNotFound, "NOT_FOUND", "reply not found", nil)
	}
	comment.Replies = append(comment.Replies[:idx], comment.Replies[idx+1:]...)
	if err := s.store.UpdateComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}
	return comment, nil
}

// CreateReply appends a reply to a comment and fans out against the parent
// objective's current owners. The reply author is the author for dedup
// purposes, evaluated per reply.
func (s *Service) CreateReply(ctx context.Context, commentID, message string, author access.Actor) (store.Comment, error) {
	if strings.TrimSpace(message) == "" {
		return store.Comment{}, domainError(http.StatusBadRequest, "INVALID_ARGUMENT", "message is required", nil)
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	obj, err := s.store.GetObjective(ctx, comment.ObjectiveID)
	if err != nil {
		return store.Comment{}, err
	}

	// Replies live inside the comment document, so timestamps are set here
	// rather than by the database.
	now := time.Now().UTC()
	reply := store.Reply{
		ID:          util.NewID("rpl"),
		AuthorID:    author.ID,
		AuthorName:  author.Name,
		AuthorEmail: author.Email,
		Message:     message,
		Mentions:    mention.Extract(message),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	comment.Replies = append(comment.Replies, reply)
	if err := s.store.UpdateComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}

	ref := objectiveRef(obj)
	notified := s.notify.MentionCreated(ctx, ref, author.ID, message, reply.Mentions)
	s.notify.CommentCreated(ctx, ref, author.ID, message, obj.Owners, notified)
	return comment, nil
}

func replyIndex(comment store.Comment, replyID string) int {
	for i := range comment.Replies {
		if comment.Replies[i].ID == replyID {
			return i
		}
	}
	return -1
}
