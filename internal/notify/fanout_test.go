package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"okrflow/api/internal/ownership"
	"okrflow/api/internal/store"
)

type fakeStore struct {
	inserted []store.Notification
	failFor  string // recipient id whose insert fails
}

func (f *fakeStore) InsertNotifications(_ context.Context, items []store.Notification) error {
	var errs []error
	for _, item := range items {
		if item.RecipientID == f.failFor {
			errs = append(errs, errors.New("insert failed"))
			continue
		}
		f.inserted = append(f.inserted, item)
	}
	return errors.Join(errs...)
}

type fakeResolver struct {
	users map[string]store.User // label -> user
}

func (f *fakeResolver) Resolve(_ context.Context, labels []string) ([]store.User, error) {
	seen := make(map[string]struct{})
	var out []store.User
	for _, label := range labels {
		user, ok := f.users[label]
		if !ok {
			continue
		}
		if _, dup := seen[user.ID]; dup {
			continue
		}
		seen[user.ID] = struct{}{}
		out = append(out, user)
	}
	return out, nil
}

var testUsers = map[string]store.User{
	"Ada Lovelace": {ID: "u1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@x.com"},
	"bob":          {ID: "u2", FirstName: "Bob", LastName: "Builder", Email: "bob@x.com"},
	"carol":        {ID: "u3", FirstName: "Carol", LastName: "Jones", Email: "carol@x.com"},
}

func newTestService(st *fakeStore) *Service {
	return New(st, &fakeResolver{users: testUsers}, nil, nil)
}

func TestMentionCreatedExcludesAuthor(t *testing.T) {
	st := &fakeStore{}
	svc := newTestService(st)
	obj := ObjectiveRef{ID: "obj1", Title: "Grow revenue"}

	recipients := svc.MentionCreated(context.Background(), obj, "u1", "nice @bob", []string{"Ada Lovelace", "bob"})

	if len(recipients) != 1 || recipients[0].ID != "u2" {
		t.Fatalf("recipients = %v, want only u2", recipients)
	}
	if len(st.inserted) != 1 {
		t.Fatalf("inserted %d notifications, want 1", len(st.inserted))
	}
	n := st.inserted[0]
	if n.Type != store.NotificationMention || n.RecipientID != "u2" {
		t.Errorf("notification = %+v", n)
	}
	if n.ContextLabel != ContextObjective || n.ContextID != "obj1" {
		t.Errorf("context = %s/%s, want OKR/obj1", n.ContextLabel, n.ContextID)
	}
}

func TestMentionCreatedZeroRecipients(t *testing.T) {
	st := &fakeStore{}
	svc := newTestService(st)

	recipients := svc.MentionCreated(context.Background(), ObjectiveRef{ID: "obj1"}, "u1", "hi @nobody", []string{"nobody"})
	if recipients != nil {
		t.Fatalf("recipients = %v, want nil", recipients)
	}
	if len(st.inserted) != 0 {
		t.Fatalf("inserted %d notifications, want 0", len(st.inserted))
	}
}

func TestMentionSnippetTruncation(t *testing.T) {
	st := &fakeStore{}
	svc := newTestService(st)
	long := strings.Repeat("a", 200)

	svc.MentionCreated(context.Background(), ObjectiveRef{ID: "obj1"}, "author", long, []string{"bob"})

	if len(st.inserted) != 1 {
		t.Fatalf("inserted %d notifications, want 1", len(st.inserted))
	}
	msg := st.inserted[0].Message
	if len(msg) != snippetLimit+3 || !strings.HasSuffix(msg, "...") {
		t.Errorf("snippet length %d, want %d with ellipsis", len(msg), snippetLimit+3)
	}
}

func TestCommentCreatedExcludesMentionedAndAuthor(t *testing.T) {
	st := &fakeStore{}
	svc := newTestService(st)
	obj := ObjectiveRef{ID: "obj1", Title: "Grow revenue"}

	mentioned := []store.User{testUsers["bob"]}
	svc.CommentCreated(context.Background(), obj, "u3", "a comment", []string{"Ada Lovelace", "bob", "carol"}, mentioned)

	if len(st.inserted) != 1 {
		t.Fatalf("inserted %d notifications, want 1 (only Ada)", len(st.inserted))
	}
	if st.inserted[0].RecipientID != "u1" || st.inserted[0].Type != store.NotificationComment {
		t.Errorf("notification = %+v", st.inserted[0])
	}
}

func TestOwnershipChanged(t *testing.T) {
	st := &fakeStore{}
	svc := newTestService(st)
	obj := ObjectiveRef{ID: "obj1", Title: "Grow revenue"}

	svc.OwnershipChanged(context.Background(), obj, ownership.Diff{
		Added:   []string{"bob"},
		Removed: []string{"carol"},
	})

	if len(st.inserted) != 2 {
		t.Fatalf("inserted %d notifications, want 2", len(st.inserted))
	}
	byRecipient := map[string]store.Notification{}
	for _, n := range st.inserted {
		if n.Type != store.NotificationOwner {
			t.Errorf("type = %s, want owner", n.Type)
		}
		byRecipient[n.RecipientID] = n
	}
	if !strings.Contains(byRecipient["u2"].Message, "added") {
		t.Errorf("u2 message = %q, want added wording", byRecipient["u2"].Message)
	}
	if !strings.Contains(byRecipient["u3"].Message, "removed") {
		t.Errorf("u3 message = %q, want removed wording", byRecipient["u3"].Message)
	}
}

func TestOwnershipChangedEmptyDiff(t *testing.T) {
	st := &fakeStore{}
	svc := newTestService(st)
	svc.OwnershipChanged(context.Background(), ObjectiveRef{ID: "obj1"}, ownership.Diff{})
	if len(st.inserted) != 0 {
		t.Fatalf("inserted %d notifications, want 0", len(st.inserted))
	}
}

func TestProgressChanged(t *testing.T) {
	st := &fakeStore{}
	svc := newTestService(st)
	obj := ObjectiveRef{ID: "obj1", Title: "Grow revenue"}

	svc.ProgressChanged(context.Background(), obj, []string{"Ada Lovelace", "bob"}, "Progress moved from 40% to 60%")

	if len(st.inserted) != 2 {
		t.Fatalf("inserted %d notifications, want 2", len(st.inserted))
	}
	for _, n := range st.inserted {
		if n.Type != store.NotificationProgress {
			t.Errorf("type = %s, want progress", n.Type)
		}
		if n.Message != "Progress moved from 40% to 60%" {
			t.Errorf("message = %q", n.Message)
		}
	}
}

// A failing insert for one recipient must not block siblings.
func TestInsertPartialFailure(t *testing.T) {
	st := &fakeStore{failFor: "u1"}
	svc := newTestService(st)
	obj := ObjectiveRef{ID: "obj1", Title: "Grow revenue"}

	svc.ProgressChanged(context.Background(), obj, []string{"Ada Lovelace", "bob"}, "update")

	if len(st.inserted) != 1 || st.inserted[0].RecipientID != "u2" {
		t.Fatalf("inserted = %+v, want only u2", st.inserted)
	}
}
