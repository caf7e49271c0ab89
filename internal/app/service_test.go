package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"okrflow/api/internal/access"
	"okrflow/api/internal/config"
	"okrflow/api/internal/directory"
	"okrflow/api/internal/notify"
	"okrflow/api/internal/report"
	"okrflow/api/internal/store"
)

type fakeStore struct {
	objectives    []store.Objective
	comments      []store.Comment
	notifications []store.Notification
	users         []store.User
	nextUserID    int
}

func (f *fakeStore) ListObjectives(_ context.Context, filter store.ObjectiveFilter) ([]store.Objective, int, error) {
	var matched []store.Objective
	for _, obj := range f.objectives {
		if filter.Department != "" && !strings.Contains(strings.ToLower(obj.Department), strings.ToLower(filter.Department)) {
			continue
		}
		if filter.Category != "" && !strings.Contains(strings.ToLower(obj.Category), strings.ToLower(filter.Category)) {
			continue
		}
		if filter.Status != "" && obj.Status != filter.Status {
			continue
		}
		if filter.IDs != nil {
			found := false
			for _, id := range filter.IDs {
				if id == obj.ID {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		matched = append(matched, obj)
	}
	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (f *fakeStore) ListAllObjectives(_ context.Context) ([]store.Objective, error) {
	return append([]store.Objective(nil), f.objectives...), nil
}

func (f *fakeStore) GetObjective(_ context.Context, objectiveID string) (store.Objective, error) {
	for _, obj := range f.objectives {
		if obj.ID == objectiveID {
			return obj, nil
		}
	}
	return store.Objective{}, sql.ErrNoRows
}

func (f *fakeStore) InsertObjective(_ context.Context, item store.Objective) error {
	f.objectives = append(f.objectives, item)
	return nil
}

func (f *fakeStore) UpdateObjective(_ context.Context, item store.Objective) error {
	for i := range f.objectives {
		if f.objectives[i].ID == item.ID {
			f.objectives[i] = item
			return nil
		}
	}
	return nil
}

func (f *fakeStore) DeleteObjective(_ context.Context, objectiveID string) (bool, error) {
	for i := range f.objectives {
		if f.objectives[i].ID == objectiveID {
			f.objectives = append(f.objectives[:i], f.objectives[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListComments(_ context.Context, objectiveID string) ([]store.Comment, error) {
	var out []store.Comment
	for _, c := range f.comments {
		if c.ObjectiveID == objectiveID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetComment(_ context.Context, commentID string) (store.Comment, error) {
	for _, c := range f.comments {
		if c.ID == commentID {
			return c, nil
		}
	}
	return store.Comment{}, sql.ErrNoRows
}

func (f *fakeStore) InsertComment(_ context.Context, item store.Comment) error {
	f.comments = append(f.comments, item)
	return nil
}

func (f *fakeStore) UpdateComment(_ context.Context, item store.Comment) error {
	for i := range f.comments {
		if f.comments[i].ID == item.ID {
			f.comments[i] = item
			return nil
		}
	}
	return nil
}

func (f *fakeStore) DeleteComment(_ context.Context, commentID string) (bool, error) {
	for i := range f.comments {
		if f.comments[i].ID == commentID {
			f.comments = append(f.comments[:i], f.comments[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ResolveCommentObjective(_ context.Context, commentID string) (string, error) {
	for _, c := range f.comments {
		if c.ID == commentID {
			return c.ObjectiveID, nil
		}
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) InsertNotifications(_ context.Context, items []store.Notification) error {
	f.notifications = append(f.notifications, items...)
	return nil
}

func (f *fakeStore) ListNotifications(_ context.Context, recipientID string) ([]store.Notification, error) {
	var out []store.Notification
	for _, n := range f.notifications {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, notificationID string) (store.Notification, error) {
	for i := range f.notifications {
		if f.notifications[i].ID == notificationID {
			f.notifications[i].Read = true
			return f.notifications[i], nil
		}
	}
	return store.Notification{}, sql.ErrNoRows
}

func (f *fakeStore) CountUnreadNotifications(_ context.Context, recipientID string) (int, error) {
	count := 0
	for _, n := range f.notifications {
		if n.RecipientID == recipientID && !n.Read {
			count++
		}
	}
	return count, nil
}

// SearchUsers mirrors the ILIKE candidate query: case-insensitive substring
// over email, first name, last name, and the full-name concatenation.
func (f *fakeStore) SearchUsers(_ context.Context, fragment string) ([]store.User, error) {
	needle := strings.ToLower(fragment)
	var out []store.User
	for _, u := range f.users {
		haystacks := []string{u.Email, u.FirstName, u.LastName, u.FirstName + " " + u.LastName}
		for _, hay := range haystacks {
			if strings.Contains(strings.ToLower(hay), needle) {
				out = append(out, u)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	for _, u := range f.users {
		if u.ID == userID {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) EnsureUser(_ context.Context, firstName, lastName, email string) (store.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	f.nextUserID++
	u := store.User{
		ID:        fmt.Sprintf("usr_%d", f.nextUserID),
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
	}
	f.users = append(f.users, u)
	return u, nil
}

func (f *fakeStore) CountObjectives(_ context.Context) (int, error) {
	return len(f.objectives), nil
}

func (f *fakeStore) Ping(_ context.Context) error {
	return nil
}

func (f *fakeStore) notificationsOfType(kind string) []store.Notification {
	var out []store.Notification
	for _, n := range f.notifications {
		if n.Type == kind {
			out = append(out, n)
		}
	}
	return out
}

var (
	userAda = store.User{ID: "u1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@x.com"}
	userBob = store.User{ID: "u2", FirstName: "Bob", LastName: "Stone", Email: "bob@x.com"}

	actorAda = access.Actor{ID: "u1", Email: "ada@x.com", Name: "Ada Lovelace"}
	actorBob = access.Actor{ID: "u2", Email: "bob@x.com", Name: "Bob Stone"}
)

func newTestService(fs *fakeStore) *Service {
	resolver := directory.NewResolver(fs)
	notifier := notify.New(fs, resolver, nil, nil)
	reports := report.NewService(fs)
	return New(config.Config{}, fs, notifier, reports, nil, nil, nil)
}

func seededStore() *fakeStore {
	return &fakeStore{users: []store.User{userAda, userBob}}
}

func TestCreateObjectiveDerivesProgressAndNotifiesOwners(t *testing.T) {
	fs := seededStore()
	svc := newTestService(fs)

	obj, err := svc.CreateObjective(context.Background(), CreateObjectiveInput{
		Title: "Grow signups",
		Owner: "Ada Lovelace",
		KeyResults: []store.KeyResult{
			{Title: "Signups", Current: 50, Target: 100},
		},
	}, "u2")
	if err != nil {
		t.Fatalf("CreateObjective: %v", err)
	}

	if obj.Progress != 50 {
		t.Errorf("progress = %d, want 50", obj.Progress)
	}
	// Ratio 0.5 sits in the [0.4, 0.7) at-risk band.
	if obj.Status != store.StatusAtRisk {
		t.Errorf("status = %q, want atRisk", obj.Status)
	}
	if len(obj.Owners) != 1 || obj.Owners[0] != "Ada Lovelace" {
		t.Errorf("owners = %v, want singular owner promoted to list", obj.Owners)
	}
	if obj.Owner() != "Ada Lovelace" {
		t.Errorf("owner projection = %q", obj.Owner())
	}
	if obj.KeyResults[0].ID == "" {
		t.Error("key result was not assigned an id")
	}
	if obj.CreatedBy != "u2" {
		t.Errorf("createdBy = %q, want u2", obj.CreatedBy)
	}

	ownerNotes := fs.notificationsOfType(store.NotificationOwner)
	if len(ownerNotes) != 1 || ownerNotes[0].RecipientID != "u1" {
		t.Fatalf("owner notifications = %+v, want one for u1", ownerNotes)
	}
	if !strings.Contains(ownerNotes[0].Message, "added as an owner") {
		t.Errorf("owner notification message = %q", ownerNotes[0].Message)
	}
}

func TestCreateObjectiveValidation(t *testing.T) {
	svc := newTestService(seededStore())
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateObjectiveInput
	}{
		{"blank title", CreateObjectiveInput{Owner: "Ada Lovelace"}},
		{"no owners", CreateObjectiveInput{Title: "Orphan"}},
		{"bad status", CreateObjectiveInput{Title: "X", Owner: "Ada Lovelace", Status: "done"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateObjective(ctx, tt.in, "u1")
			var domainErr *DomainError
			if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_ARGUMENT" {
				t.Errorf("err = %v, want INVALID_ARGUMENT", err)
			}
		})
	}
}

func TestUpdateObjectiveAccessGate(t *testing.T) {
	fs := seededStore()
	fs.objectives = []store.Objective{{
		ID: "obj-1", Title: "Guarded", Owners: []string{"Ada Lovelace"}, CreatedBy: "u9",
		Status: store.StatusOnTrack,
	}}
	svc := newTestService(fs)
	ctx := context.Background()
	title := "Renamed"

	if _, err := svc.UpdateObjective(ctx, "obj-1", ObjectivePatch{Title: &title}, actorBob); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("non-owner err = %v, want forbidden", err)
	}
	if _, err := svc.UpdateObjective(ctx, "obj-1", ObjectivePatch{Title: &title}, access.Actor{}); !errors.Is(err, access.ErrUnauthorized) {
		t.Errorf("no actor err = %v, want unauthorized", err)
	}
	if _, err := svc.UpdateObjective(ctx, "obj-1", ObjectivePatch{Title: &title}, actorAda); err != nil {
		t.Errorf("owner update err = %v", err)
	}
	creator := access.Actor{ID: "u9"}
	if _, err := svc.UpdateObjective(ctx, "obj-1", ObjectivePatch{Title: &title}, creator); err != nil {
		t.Errorf("creator update err = %v", err)
	}
}

func TestUpdateObjectiveRecomputesAndFansOut(t *testing.T) {
	fs := seededStore()
	fs.objectives = []store.Objective{{
		ID: "obj-1", Title: "Latency", Owners: []string{"Ada Lovelace"}, CreatedBy: "u1",
		Status: store.StatusAtRisk, Progress: 50,
		KeyResults: []store.KeyResult{{ID: "kr-1", Title: "p95", Current: 50, Target: 100}},
	}}
	svc := newTestService(fs)
	ctx := context.Background()

	keyResults := []store.KeyResult{{ID: "kr-1", Title: "p95", Current: 80, Target: 100}}
	obj, err := svc.UpdateObjective(ctx, "obj-1", ObjectivePatch{KeyResults: &keyResults}, actorAda)
	if err != nil {
		t.Fatalf("UpdateObjective: %v", err)
	}
	if obj.Progress != 80 || obj.Status != store.StatusOnTrack {
		t.Errorf("recompute = %d/%s, want 80/onTrack", obj.Progress, obj.Status)
	}
	progressNotes := fs.notificationsOfType(store.NotificationProgress)
	if len(progressNotes) != 1 || progressNotes[0].RecipientID != "u1" {
		t.Fatalf("progress notifications = %+v, want one for the owner", progressNotes)
	}

	// Explicit progress overrides the recomputed value for this write only.
	fs.notifications = nil
	explicit := 30
	obj, err = svc.UpdateObjective(ctx, "obj-1", ObjectivePatch{KeyResults: &keyResults, Progress: &explicit}, actorAda)
	if err != nil {
		t.Fatalf("UpdateObjective with override: %v", err)
	}
	if obj.Progress != 30 {
		t.Errorf("progress = %d, want explicit 30", obj.Progress)
	}
}

func TestUpdateObjectiveOwnershipDiffFanOut(t *testing.T) {
	fs := seededStore()
	fs.objectives = []store.Objective{{
		ID: "obj-1", Title: "Handover", Owners: []string{"Ada Lovelace"}, CreatedBy: "u1",
		Status: store.StatusOnTrack,
	}}
	svc := newTestService(fs)

	owners := []string{"Bob Stone"}
	if _, err := svc.UpdateObjective(context.Background(), "obj-1", ObjectivePatch{Owners: &owners}, actorAda); err != nil {
		t.Fatalf("UpdateObjective: %v", err)
	}

	ownerNotes := fs.notificationsOfType(store.NotificationOwner)
	if len(ownerNotes) != 2 {
		t.Fatalf("owner notifications = %d, want added + removed", len(ownerNotes))
	}
	byRecipient := map[string]string{}
	for _, n := range ownerNotes {
		byRecipient[n.RecipientID] = n.Message
	}
	if !strings.Contains(byRecipient["u2"], "added") {
		t.Errorf("bob's notification = %q, want added", byRecipient["u2"])
	}
	if !strings.Contains(byRecipient["u1"], "removed") {
		t.Errorf("ada's notification = %q, want removed", byRecipient["u1"])
	}
}

func TestUpdateObjectiveSilentWhenNothingDerivedChanges(t *testing.T) {
	fs := seededStore()
	fs.objectives = []store.Objective{{
		ID: "obj-1", Title: "Quiet", Owners: []string{"Ada Lovelace"}, CreatedBy: "u1",
		Status: store.StatusOnTrack, Progress: 40,
	}}
	svc := newTestService(fs)

	description := "clarified scope"
	if _, err := svc.UpdateObjective(context.Background(), "obj-1", ObjectivePatch{Description: &description}, actorAda); err != nil {
		t.Fatalf("UpdateObjective: %v", err)
	}
	if len(fs.notifications) != 0 {
		t.Errorf("notifications = %+v, want none for a description-only edit", fs.notifications)
	}
}

func TestDeleteObjective(t *testing.T) {
	fs := seededStore()
	fs.objectives = []store.Objective{{
		ID: "obj-1", Title: "Doomed", Owners: []string{"Ada Lovelace"}, CreatedBy: "u1",
	}}
	svc := newTestService(fs)
	ctx := context.Background()

	if err := svc.DeleteObjective(ctx, "obj-1", actorBob); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("non-owner delete err = %v, want forbidden", err)
	}
	if err := svc.DeleteObjective(ctx, "obj-1", actorAda); err != nil {
		t.Fatalf("DeleteObjective: %v", err)
	}
	if len(fs.objectives) != 0 {
		t.Error("objective still present after delete")
	}
	if err := svc.DeleteObjective(ctx, "obj-1", actorAda); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("second delete err = %v, want no rows", err)
	}
}

func TestCloneObjectiveIsSilentAndIndependent(t *testing.T) {
	fs := seededStore()
	fs.objectives = []store.Objective{{
		ID: "obj-1", Title: "Template", Owners: []string{"Ada Lovelace"}, CreatedBy: "u1",
		Category: "Growth", Status: store.StatusAtRisk, Progress: 50,
		KeyResults: []store.KeyResult{{ID: "kr-1", Title: "Signups", Current: 50, Target: 100}},
	}}
	svc := newTestService(fs)

	department := "Marketing"
	clone, err := svc.CloneObjective(context.Background(), "obj-1", ObjectivePatch{Department: &department}, "u2")
	if err != nil {
		t.Fatalf("CloneObjective: %v", err)
	}

	if clone.ID == "obj-1" {
		t.Error("clone shares the source id")
	}
	if clone.CreatedBy != "u2" {
		t.Errorf("createdBy = %q, want the cloning actor", clone.CreatedBy)
	}
	if clone.Department != "Marketing" {
		t.Errorf("department override not applied: %q", clone.Department)
	}
	if clone.Category != "Growth" || len(clone.Owners) != 1 {
		t.Errorf("clone lost copied fields: %+v", clone)
	}
	if clone.KeyResults[0].ID == "kr-1" {
		t.Error("cloned key result kept the source id")
	}
	if len(fs.notifications) != 0 {
		t.Errorf("clone fanned out notifications: %+v", fs.notifications)
	}
}

func TestSetKeyResultStatusCompleted(t *testing.T) {
	fs := seededStore()
	fs.objectives = []store.Objective{{
		ID: "obj-1", Title: "Finish line", Owners: []string{"Ada Lovelace"}, CreatedBy: "u1",
		Status: store.StatusAtRisk, Progress: 40,
		KeyResults: []store.KeyResult{{ID: "kr-1", Title: "Launch", Current: 40, Target: 100}},
	}}
	svc := newTestService(fs)
	ctx := context.Background()

	obj, err := svc.SetKeyResultStatus(ctx, "obj-1", "kr-1", store.StatusCompleted, actorAda)
	if err != nil {
		t.Fatalf("SetKeyResultStatus: %v", err)
	}
	if obj.KeyResults[0].Current != 100 {
		t.Errorf("current = %v, want forced to target", obj.KeyResults[0].Current)
	}
	if obj.Progress != 100 {
		t.Errorf("progress = %d, want 100", obj.Progress)
	}
	progressNotes := fs.notificationsOfType(store.NotificationProgress)
	if len(progressNotes) != 1 {
		t.Fatalf("progress notifications = %d, want 1", len(progressNotes))
	}

	// Same status again: no change, no fan-out.
	fs.notifications = nil
	if _, err := svc.SetKeyResultStatus(ctx, "obj-1", "kr-1", store.StatusCompleted, actorAda); err != nil {
		t.Fatalf("repeat SetKeyResultStatus: %v", err)
	}
	if len(fs.notifications) != 0 {
		t.Errorf("unchanged status fanned out: %+v", fs.notifications)
	}

	var domainErr *DomainError
	if _, err := svc.SetKeyResultStatus(ctx, "obj-1", "kr-missing", store.StatusOnTrack, actorAda); !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Errorf("missing key result err = %v, want NOT_FOUND", err)
	}
	if _, err := svc.SetKeyResultStatus(ctx, "obj-1", "kr-1", "finished", actorAda); !errors.As(err, &domainErr) || domainErr.Code != "INVALID_ARGUMENT" {
		t.Errorf("bad status err = %v, want INVALID_ARGUMENT", err)
	}
}

func TestSetObjectiveOwnersRequiresNonEmptyList(t *testing.T) {
	fs := seededStore()
	fs.objectives = []store.Objective{{
		ID: "obj-1", Title: "Owned", Owners: []string{"Ada Lovelace"}, CreatedBy: "u1",
	}}
	svc := newTestService(fs)

	var domainErr *DomainError
	if _, err := svc.SetObjectiveOwners(context.Background(), "obj-1", []string{"  "}, actorAda); !errors.As(err, &domainErr) || domainErr.Code != "INVALID_ARGUMENT" {
		t.Errorf("empty owners err = %v, want INVALID_ARGUMENT", err)
	}
}

func TestListNotificationsResolvesCommentContext(t *testing.T) {
	fs := seededStore()
	fs.comments = []store.Comment{{ID: "cmt-1", ObjectiveID: "obj-9"}}
	fs.notifications = []store.Notification{
		{ID: "ntf-1", RecipientID: "u1", Type: store.NotificationComment, ContextLabel: "comment", ContextID: "cmt-1"},
		{ID: "ntf-2", RecipientID: "u1", Type: store.NotificationComment, ContextLabel: "comment", ContextID: "cmt-gone"},
		{ID: "ntf-3", RecipientID: "u1", Type: store.NotificationMention, ContextLabel: "OKR", ContextID: "obj-9"},
	}
	svc := newTestService(fs)

	items, err := svc.ListNotifications(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if items[0].ContextLabel != "OKR" || items[0].ContextID != "obj-9" {
		t.Errorf("comment context not resolved: %+v", items[0])
	}
	if items[1].ContextLabel != "comment" || items[1].ContextID != "cmt-gone" {
		t.Errorf("dangling comment reference rewritten: %+v", items[1])
	}

	var domainErr *DomainError
	if _, err := svc.ListNotifications(context.Background(), ""); !errors.As(err, &domainErr) || domainErr.Code != "UNAUTHORIZED" {
		t.Errorf("blank user err = %v, want UNAUTHORIZED", err)
	}
}

func TestUnreadCountFallsBackToStore(t *testing.T) {
	fs := seededStore()
	fs.notifications = []store.Notification{
		{ID: "ntf-1", RecipientID: "u1"},
		{ID: "ntf-2", RecipientID: "u1", Read: true},
		{ID: "ntf-3", RecipientID: "u2"},
	}
	svc := newTestService(fs)

	count, err := svc.UnreadCount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestListObjectivesPagination(t *testing.T) {
	fs := seededStore()
	for i := 0; i < 45; i++ {
		fs.objectives = append(fs.objectives, store.Objective{
			ID: fmt.Sprintf("obj-%d", i), Title: "Objective", Owners: []string{"Ada Lovelace"},
			Status: store.StatusOnTrack,
		})
	}
	svc := newTestService(fs)

	items, meta, err := svc.ListObjectives(context.Background(), ObjectiveListInput{Page: 3, Limit: 20})
	if err != nil {
		t.Fatalf("ListObjectives: %v", err)
	}
	if len(items) != 5 {
		t.Errorf("page 3 size = %d, want 5", len(items))
	}
	if meta.Total != 45 || meta.Pages != 3 || meta.Page != 3 || meta.Limit != 20 {
		t.Errorf("meta = %+v", meta)
	}
}
