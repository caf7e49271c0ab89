package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ObjectiveFilter narrows ListObjectives. Department and Category are
// case-insensitive substring matches; Status is an exact match; IDs, when
// non-nil, restricts to the given objective ids (used by text search).
type ObjectiveFilter struct {
	Department string
	Category   string
	Status     string
	IDs        []string
	Limit      int
	Offset     int
}

func (s *PostgresStore) ListObjectives(ctx context.Context, filter ObjectiveFilter) ([]Objective, int, error) {
	where, args := objectiveFilterClauses(filter)

	countQuery := `SELECT COUNT(*) FROM objectives` + where
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count objectives: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT id, title, description, owners, created_by, due_date, category, department,
			status, progress, key_results, created_at, updated_at
		FROM objectives%s
		ORDER BY updated_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list objectives: %w", err)
	}
	defer rows.Close()

	items := make([]Objective, 0)
	for rows.Next() {
		item, err := scanObjective(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate objectives: %w", err)
	}
	return items, total, nil
}

// ListAllObjectives returns every objective without pagination, for report
// aggregation and search reindexing.
func (s *PostgresStore) ListAllObjectives(ctx context.Context) ([]Objective, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, owners, created_by, due_date, category, department,
			status, progress, key_results, created_at, updated_at
		FROM objectives
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all objectives: %w", err)
	}
	defer rows.Close()

	items := make([]Objective, 0)
	for rows.Next() {
		item, err := scanObjective(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objectives: %w", err)
	}
	return items, nil
}

func objectiveFilterClauses(filter ObjectiveFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.Department != "" {
		args = append(args, "%"+filter.Department+"%")
		clauses = append(clauses, fmt.Sprintf("department ILIKE $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, "%"+filter.Category+"%")
		clauses = append(clauses, fmt.Sprintf("category ILIKE $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.IDs != nil {
		placeholders := make([]string, 0, len(filter.IDs))
		for _, id := range filter.IDs {
			args = append(args, id)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		if len(placeholders) == 0 {
			clauses = append(clauses, "FALSE")
		} else {
			clauses = append(clauses, "id IN ("+strings.Join(placeholders, ", ")+")")
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObjective(row rowScanner) (Objective, error) {
	var item Objective
	var owners, keyResults []byte
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&owners,
		&item.CreatedBy,
		&item.DueDate,
		&item.Category,
		&item.Department,
		&item.Status,
		&item.Progress,
		&keyResults,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Objective{}, err
	}
	if err := json.Unmarshal(owners, &item.Owners); err != nil {
		return Objective{}, fmt.Errorf("decode owners for %s: %w", item.ID, err)
	}
	if err := json.Unmarshal(keyResults, &item.KeyResults); err != nil {
		return Objective{}, fmt.Errorf("decode key results for %s: %w", item.ID, err)
	}
	return item, nil
}

func (s *PostgresStore) GetObjective(ctx context.Context, objectiveID string) (Objective, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, owners, created_by, due_date, category, department,
			status, progress, key_results, created_at, updated_at
		FROM objectives
		WHERE id=$1
	`, objectiveID)
	return scanObjective(row)
}

func (s *PostgresStore) InsertObjective(ctx context.Context, item Objective) error {
	owners, keyResults, err := encodeObjectiveJSON(item)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO objectives (id, title, description, owners, created_by, due_date, category,
			department, status, progress, key_results)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, item.ID, item.Title, item.Description, owners, item.CreatedBy, item.DueDate,
		item.Category, item.Department, item.Status, item.Progress, keyResults)
	if err != nil {
		return fmt.Errorf("insert objective: %w", err)
	}
	return nil
}

// UpdateObjective writes the full objective row. Field-level last-write-wins;
// no version check.
func (s *PostgresStore) UpdateObjective(ctx context.Context, item Objective) error {
	owners, keyResults, err := encodeObjectiveJSON(item)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE objectives
		SET title=$2, description=$3, owners=$4, due_date=$5, category=$6, department=$7,
			status=$8, progress=$9, key_results=$10, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, owners, item.DueDate, item.Category,
		item.Department, item.Status, item.Progress, keyResults)
	if err != nil {
		return fmt.Errorf("update objective: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteObjective(ctx context.Context, objectiveID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM objectives WHERE id=$1`, objectiveID)
	if err != nil {
		return false, fmt.Errorf("delete objective: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete objective result: %w", err)
	}
	return affected > 0, nil
}

func encodeObjectiveJSON(item Objective) ([]byte, []byte, error) {
	ownersList := item.Owners
	if ownersList == nil {
		ownersList = []string{}
	}
	owners, err := json.Marshal(ownersList)
	if err != nil {
		return nil, nil, fmt.Errorf("encode owners: %w", err)
	}
	keyResultsList := item.KeyResults
	if keyResultsList == nil {
		keyResultsList = []KeyResult{}
	}
	keyResults, err := json.Marshal(keyResultsList)
	if err != nil {
		return nil, nil, fmt.Errorf("encode key results: %w", err)
	}
	return owners, keyResults, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, objectiveID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, objective_id, author_id, author_name, author_email, message, mentions,
			replies, created_at, updated_at
		FROM comments
		WHERE objective_id=$1
		ORDER BY created_at ASC
	`, objectiveID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func scanComment(row rowScanner) (Comment, error) {
	var item Comment
	var mentions, replies []byte
	err := row.Scan(
		&item.ID,
		&item.ObjectiveID,
		&item.AuthorID,
		&item.AuthorName,
		&item.AuthorEmail,
		&item.Message,
		&mentions,
		&replies,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Comment{}, err
	}
	if err := json.Unmarshal(mentions, &item.Mentions); err != nil {
		return Comment{}, fmt.Errorf("decode mentions for %s: %w", item.ID, err)
	}
	if err := json.Unmarshal(replies, &item.Replies); err != nil {
		return Comment{}, fmt.Errorf("decode replies for %s: %w", item.ID, err)
	}
	return item, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, objective_id, author_id, author_name, author_email, message, mentions,
			replies, created_at, updated_at
		FROM comments
		WHERE id=$1
	`, commentID)
	return scanComment(row)
}

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) error {
	mentions, replies, err := encodeCommentJSON(item)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO comments (id, objective_id, author_id, author_name, author_email, message,
			mentions, replies)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.ObjectiveID, item.AuthorID, item.AuthorName, item.AuthorEmail,
		item.Message, mentions, replies)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// UpdateComment rewrites the message, mentions and embedded reply list.
func (s *PostgresStore) UpdateComment(ctx context.Context, item Comment) error {
	mentions, replies, err := encodeCommentJSON(item)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE comments
		SET message=$2, mentions=$3, replies=$4, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Message, mentions, replies)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return false, fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete comment result: %w", err)
	}
	return affected > 0, nil
}

// ResolveCommentObjective maps a comment id to its parent objective id.
func (s *PostgresStore) ResolveCommentObjective(ctx context.Context, commentID string) (string, error) {
	var objectiveID string
	err := s.db.QueryRowContext(ctx, `SELECT objective_id FROM comments WHERE id=$1`, commentID).Scan(&objectiveID)
	if err != nil {
		return "", err
	}
	return objectiveID, nil
}

func encodeCommentJSON(item Comment) ([]byte, []byte, error) {
	mentionsList := item.Mentions
	if mentionsList == nil {
		mentionsList = []string{}
	}
	mentions, err := json.Marshal(mentionsList)
	if err != nil {
		return nil, nil, fmt.Errorf("encode mentions: %w", err)
	}
	repliesList := item.Replies
	if repliesList == nil {
		repliesList = []Reply{}
	}
	replies, err := json.Marshal(repliesList)
	if err != nil {
		return nil, nil, fmt.Errorf("encode replies: %w", err)
	}
	return mentions, replies, nil
}

// InsertNotifications writes the batch best-effort: a failed insert does not
// prevent sibling rows from being written (unordered batch semantics).
func (s *PostgresStore) InsertNotifications(ctx context.Context, items []Notification) error {
	var errs []error
	for _, item := range items {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO notifications (id, recipient_id, type, title, message, context_label,
				context_id, read)
			VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		`, item.ID, item.RecipientID, item.Type, item.Title, item.Message,
			item.ContextLabel, item.ContextID)
		if err != nil {
			errs = append(errs, fmt.Errorf("insert notification for %s: %w", item.RecipientID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *PostgresStore) ListNotifications(ctx context.Context, recipientID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_id, type, title, message, context_label, context_id, read,
			created_at, updated_at
		FROM notifications
		WHERE recipient_id=$1
		ORDER BY created_at DESC
	`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.RecipientID, &item.Type, &item.Title, &item.Message,
			&item.ContextLabel, &item.ContextID, &item.Read, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

// MarkNotificationRead flips the read flag and returns the updated row.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID string) (Notification, error) {
	var item Notification
	err := s.db.QueryRowContext(ctx, `
		UPDATE notifications
		SET read=TRUE, updated_at=NOW()
		WHERE id=$1
		RETURNING id, recipient_id, type, title, message, context_label, context_id, read,
			created_at, updated_at
	`, notificationID).Scan(&item.ID, &item.RecipientID, &item.Type, &item.Title, &item.Message,
		&item.ContextLabel, &item.ContextID, &item.Read, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Notification{}, err
	}
	return item, nil
}

func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE recipient_id=$1 AND read=FALSE
	`, recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// SearchUsers fetches directory candidates by case-insensitive substring over
// email, first name, last name, and the "first last" concatenation. Exact
// acceptance is applied by the directory resolver, not here.
func (s *PostgresStore) SearchUsers(ctx context.Context, fragment string) ([]User, error) {
	pattern := "%" + fragment + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, email, created_at
		FROM users
		WHERE email ILIKE $1
			OR first_name ILIKE $1
			OR last_name ILIKE $1
			OR (first_name || ' ' || last_name) ILIKE $1
	`, pattern)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.FirstName, &item.LastName, &item.Email, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var item User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, created_at FROM users WHERE id=$1
	`, userID).Scan(&item.ID, &item.FirstName, &item.LastName, &item.Email, &item.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return item, nil
}

// EnsureUser inserts a directory user if the email is not present yet.
// The directory is a read dependency for this service; EnsureUser exists for
// bootstrap seeding only. A duplicate email surfaces as a conflict upstream.
func (s *PostgresStore) EnsureUser(ctx context.Context, firstName, lastName, email string) (User, error) {
	var item User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, created_at FROM users WHERE email=$1
	`, email).Scan(&item.ID, &item.FirstName, &item.LastName, &item.Email, &item.CreatedAt)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (first_name, last_name, email)
		VALUES ($1, $2, $3)
		RETURNING id, first_name, last_name, email, created_at
	`, firstName, lastName, email).Scan(&item.ID, &item.FirstName, &item.LastName, &item.Email, &item.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) CountObjectives(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objectives`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count objectives: %w", err)
	}
	return count, nil
}
