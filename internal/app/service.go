// Package app hosts the objective lifecycle and comment thread services and
// the HTTP layer that exposes them.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"okrflow/api/internal/access"
	"okrflow/api/internal/archive"
	"okrflow/api/internal/config"
	"okrflow/api/internal/notify"
	"okrflow/api/internal/ownership"
	"okrflow/api/internal/progress"
	"okrflow/api/internal/report"
	"okrflow/api/internal/search"
	"okrflow/api/internal/store"
	"okrflow/api/internal/util"
)

type CreateObjectiveInput struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Owner       string            `json:"owner"`
	Owners      []string          `json:"owners"`
	DueDate     string            `json:"dueDate"`
	Category    string            `json:"category"`
	Department  string            `json:"department"`
	Status      string            `json:"status"`
	Progress    *int              `json:"progress"`
	KeyResults  []store.KeyResult `json:"keyResults"`
}

// ObjectivePatch carries a partial update: nil means "leave unchanged".
// Owners is the only settable ownership field; the singular owner is a
// read-time projection of owners[0].
type ObjectivePatch struct {
	Title       *string            `json:"title"`
	Description *string            `json:"description"`
	Owners      *[]string          `json:"owners"`
	DueDate     *string            `json:"dueDate"`
	Category    *string            `json:"category"`
	Department  *string            `json:"department"`
	Status      *string            `json:"status"`
	Progress    *int               `json:"progress"`
	KeyResults  *[]store.KeyResult `json:"keyResults"`
}

type ObjectiveListInput struct {
	Department string
	Status     string
	Category   string
	Query      string
	Page       int
	Limit      int
}

type PaginationMeta struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
	Limit int `json:"limit"`
}

var allowedObjectiveStatuses = map[string]struct{}{
	store.StatusOnTrack:  {},
	store.StatusAtRisk:   {},
	store.StatusOffTrack: {},
}

var allowedKeyResultStatuses = map[string]struct{}{
	store.StatusOnTrack:   {},
	store.StatusAtRisk:    {},
	store.StatusOffTrack:  {},
	store.StatusCompleted: {},
}

type dataStore interface {
	ListObjectives(ctx context.Context, filter store.ObjectiveFilter) ([]store.Objective, int, error)
	ListAllObjectives(ctx context.Context) ([]store.Objective, error)
	GetObjective(ctx context.Context, objectiveID string) (store.Objective, error)
	InsertObjective(ctx context.Context, item store.Objective) error
	UpdateObjective(ctx context.Context, item store.Objective) error
	DeleteObjective(ctx context.Context, objectiveID string) (bool, error)
	ListComments(ctx context.Context, objectiveID string) ([]store.Comment, error)
	GetComment(ctx context.Context, commentID string) (store.Comment, error)
	InsertComment(ctx context.Context, item store.Comment) error
	UpdateComment(ctx context.Context, item store.Comment) error
	DeleteComment(ctx context.Context, commentID string) (bool, error)
	ResolveCommentObjective(ctx context.Context, commentID string) (string, error)
	ListNotifications(ctx context.Context, recipientID string) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID string) (store.Notification, error)
	CountUnreadNotifications(ctx context.Context, recipientID string) (int, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	EnsureUser(ctx context.Context, firstName, lastName, email string) (store.User, error)
	CountObjectives(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

type Service struct {
	cfg     config.Config
	store   dataStore
	notify  *notify.Service
	reports *report.Service
	search  *search.Service    // may be nil
	badge   *notify.BadgeCache // may be nil
	archive *archive.Uploader  // may be nil
}

func New(cfg config.Config, dataStore dataStore, notifier *notify.Service, reports *report.Service,
	searchSvc *search.Service, badge *notify.BadgeCache, archiver *archive.Uploader) *Service {
	return &Service{
		cfg:     cfg,
		store:   dataStore,
		notify:  notifier,
		reports: reports,
		search:  searchSvc,
		badge:   badge,
		archive: archiver,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// DisplayStatus is the read-time objective status: completed once progress
// reaches 100, otherwise the stored status.
func DisplayStatus(obj store.Objective) string {
	if obj.Progress >= 100 {
		return store.StatusCompleted
	}
	return obj.Status
}

func (s *Service) ListObjectives(ctx context.Context, in ObjectiveListInput) ([]store.Objective, PaginationMeta, error) {
	page := in.Page
	if page < 1 {
		page = 1
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	filter := store.ObjectiveFilter{
		Department: in.Department,
		Category:   in.Category,
		Status:     in.Status,
		Limit:      limit,
		Offset:     (page - 1) * limit,
	}
	if query := strings.TrimSpace(in.Query); query != "" {
		filter.IDs = s.searchIDs(query, in)
	}

	items, total, err := s.store.ListObjectives(ctx, filter)
	if err != nil {
		return nil, PaginationMeta{}, err
	}

	pages := (total + limit - 1) / limit
	if pages == 0 {
		pages = 1
	}
	return items, PaginationMeta{Total: total, Page: page, Pages: pages, Limit: limit}, nil
}

// searchIDs resolves a free-text query to matching objective ids. An empty
// non-nil result means "query matched nothing"; nil means "no search
// backend, do not restrict".
func (s *Service) searchIDs(query string, in ObjectiveListInput) []string {
	if s.search == nil {
		return nil
	}
	resp := s.search.Search(search.Query{
		Text:             query,
		FilterDepartment: in.Department,
		FilterStatus:     in.Status,
		Limit:            200,
	})
	ids := make([]string, 0, len(resp.Results))
	for _, result := range resp.Results {
		ids = append(ids, result.ID)
	}
	return ids
}

func (s *Service) GetObjective(ctx context.Context, objectiveID string) (store.Objective, error) {
	return s.store.GetObjective(ctx, objectiveID)
}

func (s *Service) CreateObjective(ctx context.Context, in CreateObjectiveInput, actorID string) (store.Objective, error) {
	if strings.TrimSpace(in.Title) == "" {
		return store.Objective{}, domainError(http.StatusBadRequest, "INVALID_ARGUMENT", "title is required", nil)
	}
	owners := cleanOwners(in.Owners)
	if len(owners) == 0 && strings.TrimSpace(in.Owner) != "" {
		owners = []string{strings.TrimSpace(in.Owner)}
	}
	if len(owners) == 0 {
		return store.Objective{}, domainError(http.StatusBadRequest, "INVALID_ARGUMENT", "at least one owner is required", nil)
	}
	if in.Status != "" {
		if _, ok := allowedObjectiveStatuses[in.Status]; !ok {
			return store.Objective{}, domainError(http.StatusBadRequest, "INVALID_ARGUMENT", "status must be onTrack, atRisk or offTrack", nil)
		}
	}

	keyResults := withKeyResultIDs(in.KeyResults)
	computedProgress, computedStatus := progress.Compute(keyResults)
	if in.Progress != nil {
		computedProgress = clampProgress(*in.Progress)
	}
	if in.Status != "" {
		computedStatus = in.Status
	}

	obj := store.Objective{
		ID:          util.NewID("obj"),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Owners:      owners,
		CreatedBy:   actorID,
		DueDate:     in.DueDate,
		Category:    in.Category,
		Department:  in.Department,
		Status:      computedStatus,
		Progress:    computedProgress,
		KeyResults:  keyResults,
	}
	if err := s.store.InsertObjective(ctx, obj); err != nil {
		return store.Objective{}, err
	}

	// Every initial owner counts as added; there is no previous state.
	s.notify.OwnershipChanged(ctx, objectiveRef(obj), ownership.Compute(nil, owners))
	s.indexObjective(obj)
	return obj, nil
}

func (s *Service) UpdateObjective(ctx context.Context, objectiveID string, patch ObjectivePatch, actor access.Actor) (store.Objective, error) {
	obj, err := s.store.GetObjective(ctx, objectiveID)
	if err != nil {
		return store.Objective{}, err
	}
	if err := access.CheckMutate(actor, obj.Owners, obj.CreatedBy); err != nil {
		return store.Objective{}, err
	}

	prevOwners := obj.Owners
	prevProgress := obj.Progress
	prevStatus := obj.Status

	if err := applyPatch(&obj, patch); err != nil {
		return store.Objective{}, err
	}
	if err := s.store.UpdateObjective(ctx, obj); err != nil {
		return store.Objective{}, err
	}

	ref := objectiveRef(obj)
	if diff := ownership.Compute(prevOwners, obj.Owners); !diff.Empty() {
		s.notify.OwnershipChanged(ctx, ref, diff)
	}
	if obj.Progress != prevProgress || obj.Status != prevStatus {
		s.notify.ProgressChanged(ctx, ref, obj.Owners,
			fmt.Sprintf("Progress moved from %d%% to %d%% (%s)", prevProgress, obj.Progress, obj.Status))
	}
	s.indexObjective(obj)
	return obj, nil
}

// applyPatch mutates obj field by field. A supplied key-result list triggers
// recomputation; explicit progress or status then overrides the computed
// value for this write only.
func applyPatch(obj *store.Objective, patch ObjectivePatch) error {
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return domainError(http.StatusBadRequest, "INVALID_ARGUMENT", "title cannot be blank", nil)
		}
		obj.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		obj.Description = *patch.Description
	}
	if patch.Owners != nil {
		owners := cleanOwners(*patch.Owners)
		if len(owners) == 0 {
			return domainError(http.StatusBadRequest, "INVALID_ARGUMENT", "at least one owner is required", nil)
		}
		obj.Owners = owners
	}
	if patch.DueDate != nil {
		obj.DueDate = *patch.DueDate
	}
	if patch.Category != nil {
		obj.Category = *patch.Category
	}
	if patch.Department != nil {
		obj.Department = *patch.Department
	}
	if patch.KeyResults != nil {
		obj.KeyResults = withKeyResultIDs(*patch.KeyResults)
		obj.Progress, obj.Status = progress.Compute(obj.KeyResults)
	}
	if patch.Progress != nil {
		obj.Progress = clampProgress(*patch.Progress)
	}
	if patch.Status != nil {
		if _, ok := allowedObjectiveStatuses[*patch.Status]; !ok {
			return domainError(http.StatusBadRequest, "INVALID_ARGUMENT", "status must be onTrack, atRisk or offTrack", nil)
		}
		obj.Status = *patch.Status
	}
	return nil
}

func (s *Service) DeleteObjective(ctx context.Context, objectiveID string, actor access.Actor) error {
	obj, err := s.store.GetObjective(ctx, objectiveID)
	if err != nil {
		return err
	}
	if err := access.CheckMutate(actor, obj.Owners, obj.CreatedBy); err != nil {
		return err
	}
	affected, err := s.store.DeleteObjective(ctx, objectiveID)
	if err != nil {
		return err
	}
	if !affected {
		return sql.ErrNoRows
	}
	// Comments and notifications referencing the objective are left in place.
	s.deindexObjective(objectiveID)
	return nil
}

// CloneObjective copies a source objective, applies overrides, and inserts
// the copy under the acting user. Unlike Create, clone fires no ownership
// notifications.
func (s *Service) CloneObjective(ctx context.Context, objectiveID string, overrides ObjectivePatch, actorID string) (store.Objective, error) {
	source, err := s.store.GetObjective(ctx, objectiveID)
	if err != nil {
		return store.Objective{}, err
	}

	clone := source
	clone.ID = util.NewID("obj")
	clone.CreatedBy = actorID
	clone.CreatedAt = time.Time{}
	clone.UpdatedAt = time.Time{}
	clone.Owners = append([]string(nil), source.Owners...)
	clone.KeyResults = append([]store.KeyResult(nil), source.KeyResults...)
	for i := range clone.KeyResults {
		clone.KeyResults[i].ID = util.NewID("kr")
	}

	if err := applyPatch(&clone, overrides); err != nil {
		return store.Objective{}, err
	}
	if err := s.store.InsertObjective(ctx, clone); err != nil {
		return store.Objective{}, err
	}
	s.indexObjective(clone)
	return clone, nil
}

func (s *Service) SetKeyResultStatus(ctx context.Context, objectiveID, keyResultID, status string, actor access.Actor) (store.Objective, error) {
	if _, ok := allowedKeyResultStatuses[status]; !ok {
		return store.Objective{}, domainError(http.StatusBadRequest, "INVALID_ARGUMENT", "status must be onTrack, atRisk, offTrack or completed", nil)
	}
	obj, err := s.store.GetObjective(ctx, objectiveID)
	if err != nil {
		return store.Objective{}, err
	}
	if err := access.CheckMutate(actor, obj.Owners, obj.CreatedBy); err != nil {
		return store.Objective{}, err
	}

	idx := -1
	for i := range obj.KeyResults {
		if obj.KeyResults[i].ID == keyResultID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return store.Objective{}, domainError(http.StatusNotFound, "NOT_FOUND", "key result not found", nil)
	}

	kr := &obj.KeyResults[idx]
	changed := kr.Status != status
	kr.Status = status
	if status == store.StatusCompleted && kr.Target > 0 {
		kr.Current = kr.Target
	}
	obj.Progress, obj.Status = progress.Compute(obj.KeyResults)

	if err := s.store.UpdateObjective(ctx, obj); err != nil {
		return store.Objective{}, err
	}
	if changed {
		s.notify.ProgressChanged(ctx, objectiveRef(obj), obj.Owners,
			fmt.Sprintf("Key result %q is now %s", kr.Title, status))
	}
	s.indexObjective(obj)
	return obj, nil
}

func (s *Service) SetObjectiveOwners(ctx context.Context, objectiveID string, owners []string, actor access.Actor) (store.Objective, error) {
	obj, err := s.store.GetObjective(ctx, objectiveID)
	if err != nil {
		return store.Objective{}, err
	}
	if err := access.CheckMutate(actor, obj.Owners, obj.CreatedBy); err != nil {
		return store.Objective{}, err
	}

	next := cleanOwners(owners)
	if len(next) == 0 {
		return store.Objective{}, domainError(http.StatusBadRequest, "INVALID_ARGUMENT", "at least one owner is required", nil)
	}

	prevOwners := obj.Owners
	obj.Owners = next
	if err := s.store.UpdateObjective(ctx, obj); err != nil {
		return store.Objective{}, err
	}
	if diff := ownership.Compute(prevOwners, next); !diff.Empty() {
		s.notify.OwnershipChanged(ctx, objectiveRef(obj), diff)
	}
	s.indexObjective(obj)
	return obj, nil
}

// ListNotifications returns the recipient's feed. Comment-context entries
// are resolved to their parent objective at read time so clients can
// navigate; a deleted comment leaves the raw reference in place.
func (s *Service) ListNotifications(ctx context.Context, userID string) ([]store.Notification, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "actor id is required", nil)
	}
	items, err := s.store.ListNotifications(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ContextLabel != notify.ContextComment {
			continue
		}
		objectiveID, err := s.store.ResolveCommentObjective(ctx, items[i].ContextID)
		if err != nil {
			continue
		}
		items[i].ContextLabel = notify.ContextObjective
		items[i].ContextID = objectiveID
	}
	return items, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, notificationID string) (store.Notification, error) {
	item, err := s.store.MarkNotificationRead(ctx, notificationID)
	if err != nil {
		return store.Notification{}, err
	}
	if s.badge != nil {
		if err := s.badge.Invalidate(ctx, item.RecipientID); err != nil {
			log.Printf("app: invalidate badge for %s: %v", item.RecipientID, err)
		}
	}
	return item, nil
}

// UnreadCount serves the notification badge from the cache when possible,
// falling back to a store count and repopulating the cache.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "actor id is required", nil)
	}
	if s.badge != nil {
		if count, ok, err := s.badge.Get(ctx, userID); err == nil && ok {
			return count, nil
		}
	}
	count, err := s.store.CountUnreadNotifications(ctx, userID)
	if err != nil {
		return 0, err
	}
	if s.badge != nil {
		if err := s.badge.Set(ctx, userID, count); err != nil {
			log.Printf("app: cache badge for %s: %v", userID, err)
		}
	}
	return count, nil
}

func (s *Service) QuarterlyReport(ctx context.Context, f report.Filter) (report.QuarterlyReport, error) {
	return s.reports.Quarterly(ctx, f)
}

func (s *Service) YearlyReport(ctx context.Context, f report.Filter) (report.YearlyReport, error) {
	return s.reports.Yearly(ctx, f)
}

// ExportReport renders the report and archives a copy in object storage.
func (s *Service) ExportReport(ctx context.Context, format string, f report.Filter) (report.ExportResult, error) {
	result, err := s.reports.Export(ctx, format, f)
	if err != nil {
		return report.ExportResult{}, err
	}
	s.archive.Store(result.Filename, result.MimeType, result.Data)
	return result, nil
}

// Bootstrap seeds the directory and, on an empty database, a handful of
// sample objectives, then warms the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	seedUsers := []struct {
		First, Last, Email string
	}{
		{"Ada", "Lovelace", "ada@okrflow.dev"},
		{"Grace", "Hopper", "grace@okrflow.dev"},
		{"Edsger", "Dijkstra", "edsger@okrflow.dev"},
	}
	for _, seed := range seedUsers {
		if _, err := s.store.EnsureUser(ctx, seed.First, seed.Last, seed.Email); err != nil {
			return fmt.Errorf("seed user %s: %w", seed.Email, err)
		}
	}

	count, err := s.store.CountObjectives(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		year := time.Now().Year()
		seeds := []store.Objective{
			{
				ID:          util.NewID("obj"),
				Title:       "Ship self-serve onboarding",
				Description: "Reduce time-to-first-value for new workspaces.",
				Owners:      []string{"Ada Lovelace"},
				DueDate:     fmt.Sprintf("%d-03-31", year),
				Category:    "Growth",
				Department:  "Product",
				KeyResults: []store.KeyResult{
					{ID: util.NewID("kr"), Title: "Activation rate", Scale: store.ScalePercentage, Current: 30, Target: 60, Owner: "Ada Lovelace"},
					{ID: util.NewID("kr"), Title: "Guided setup flows shipped", Scale: store.ScaleNumeric, Current: 1, Target: 4, Owner: "Grace Hopper"},
				},
			},
			{
				ID:          util.NewID("obj"),
				Title:       "Cut p95 API latency in half",
				Description: "Platform reliability push for the busiest endpoints.",
				Owners:      []string{"Grace Hopper", "Edsger Dijkstra"},
				DueDate:     fmt.Sprintf("%d-06-30", year),
				Category:    "Platform",
				Department:  "Engineering",
				KeyResults: []store.KeyResult{
					{ID: util.NewID("kr"), Title: "p95 latency (ms headroom)", Scale: store.ScaleNumeric, Current: 120, Target: 250, Owner: "Edsger Dijkstra"},
				},
			},
		}
		for i := range seeds {
			seeds[i].Progress, seeds[i].Status = progress.Compute(seeds[i].KeyResults)
			if err := s.store.InsertObjective(ctx, seeds[i]); err != nil {
				return fmt.Errorf("seed objective %s: %w", seeds[i].ID, err)
			}
		}
		log.Printf("app: seeded %d sample objectives", len(seeds))
	}

	s.reindexSearch(ctx)
	return nil
}

func (s *Service) reindexSearch(ctx context.Context) {
	if s.search == nil {
		return
	}
	objectives, err := s.store.ListAllObjectives(ctx)
	if err != nil {
		log.Printf("app: load objectives for reindex: %v", err)
		return
	}
	records := make([]search.ObjectiveRecord, 0, len(objectives))
	for _, obj := range objectives {
		records = append(records, searchRecord(obj))
	}
	s.search.ReindexAll(records)
}

func (s *Service) indexObjective(obj store.Objective) {
	if s.search == nil {
		return
	}
	s.search.IndexObjective(searchRecord(obj))
}

func (s *Service) deindexObjective(objectiveID string) {
	if s.search == nil {
		return
	}
	s.search.DeleteObjective(objectiveID)
}

func searchRecord(obj store.Objective) search.ObjectiveRecord {
	return search.ObjectiveRecord{
		ID:          obj.ID,
		Title:       obj.Title,
		Description: obj.Description,
		Department:  obj.Department,
		Category:    obj.Category,
		Status:      obj.Status,
		Progress:    obj.Progress,
	}
}

func objectiveRef(obj store.Objective) notify.ObjectiveRef {
	return notify.ObjectiveRef{ID: obj.ID, Title: obj.Title}
}

func cleanOwners(owners []string) []string {
	out := make([]string, 0, len(owners))
	for _, owner := range owners {
		if trimmed := strings.TrimSpace(owner); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func withKeyResultIDs(keyResults []store.KeyResult) []store.KeyResult {
	out := append([]store.KeyResult(nil), keyResults...)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = util.NewID("kr")
		}
	}
	return out
}

func clampProgress(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
