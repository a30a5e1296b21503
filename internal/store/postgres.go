package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
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

const ideaColumns = `id, project_id, content, details, x, y, priority, owner_id, editing_by, editing_at, created_at, updated_at`

func scanIdea(row interface{ Scan(...any) error }) (Idea, error) {
	var item Idea
	err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Content,
		&item.Details,
		&item.X,
		&item.Y,
		&item.Priority,
		&item.OwnerID,
		&item.EditingBy,
		&item.EditingAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertIdea(ctx context.Context, item Idea) (Idea, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO ideas (id, project_id, content, details, x, y, priority, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+ideaColumns+`
	`, item.ID, item.ProjectID, item.Content, item.Details, item.X, item.Y, item.Priority, item.OwnerID)
	inserted, err := scanIdea(row)
	if err != nil {
		return Idea{}, fmt.Errorf("insert idea: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetIdea(ctx context.Context, ideaID string) (Idea, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id=$1`, ideaID)
	item, err := scanIdea(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Idea{}, ErrNotFound
	}
	if err != nil {
		return Idea{}, fmt.Errorf("get idea: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListIdeas(ctx context.Context, projectID string) ([]Idea, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ideaColumns+`
		FROM ideas
		WHERE project_id=$1
		ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	defer rows.Close()

	items := make([]Idea, 0)
	for rows.Next() {
		item, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idea: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ideas: %w", err)
	}
	return items, nil
}

// UpdateIdea applies patch if the row's updated_at still matches
// patch.ExpectedUpdatedAt; a mismatch is a StaleWrite. GREATEST keeps
// updated_at non-decreasing even under clock skew between instances.
func (s *PostgresStore) UpdateIdea(ctx context.Context, ideaID string, patch IdeaPatch) (Idea, error) {
	sets := []string{"updated_at = GREATEST(NOW(), updated_at)"}
	args := []any{ideaID, patch.ExpectedUpdatedAt}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Content != nil {
		add("content", *patch.Content)
	}
	if patch.Details != nil {
		add("details", *patch.Details)
	}
	if patch.X != nil {
		add("x", *patch.X)
	}
	if patch.Y != nil {
		add("y", *patch.Y)
	}
	if patch.Priority != nil {
		add("priority", *patch.Priority)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE ideas SET `+strings.Join(sets, ", ")+`
		WHERE id=$1 AND updated_at=$2
		RETURNING `+ideaColumns+`
	`, args...)
	item, err := scanIdea(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Row missing or updated_at moved on; distinguish the two.
		if _, getErr := s.GetIdea(ctx, ideaID); getErr != nil {
			return Idea{}, getErr
		}
		return Idea{}, ErrStaleWrite
	}
	if err != nil {
		return Idea{}, fmt.Errorf("update idea: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteIdea(ctx context.Context, ideaID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM ideas WHERE id=$1`, ideaID)
	if err != nil {
		return fmt.Errorf("delete idea: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete idea rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AcquireLock claims the idea's edit lock for userID when it is
// unclaimed, already held by userID, or held by someone whose last
// heartbeat is older than ttl. The WHERE clause makes the claim atomic.
// Claims never touch updated_at; the lock lifecycle must not invalidate
// anyone's conflict token.
func (s *PostgresStore) AcquireLock(ctx context.Context, ideaID, userID string, ttl time.Duration) (Idea, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE ideas
		SET editing_by=$2, editing_at=NOW()
		WHERE id=$1
			AND (editing_by IS NULL OR editing_by=$2 OR editing_at < NOW() - $3::interval)
		RETURNING `+ideaColumns+`
	`, ideaID, userID, ttl.String())
	item, err := scanIdea(row)
	if err == nil {
		return item, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Idea{}, false, fmt.Errorf("acquire lock: %w", err)
	}

	// Denied or missing: read back the current holder for the caller.
	current, getErr := s.GetIdea(ctx, ideaID)
	if getErr != nil {
		return Idea{}, false, getErr
	}
	return current, false, nil
}

func (s *PostgresStore) RenewLock(ctx context.Context, ideaID, userID string, ttl time.Duration) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ideas
		SET editing_at=NOW()
		WHERE id=$1 AND editing_by=$2 AND editing_at >= NOW() - $3::interval
	`, ideaID, userID, ttl.String())
	if err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("renew lock rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, ideaID, userID string) (Idea, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE ideas
		SET editing_by=NULL, editing_at=NULL
		WHERE id=$1 AND editing_by=$2
		RETURNING `+ideaColumns+`
	`, ideaID, userID)
	item, err := scanIdea(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Idea{}, false, nil
	}
	if err != nil {
		return Idea{}, false, fmt.Errorf("release lock: %w", err)
	}
	return item, true, nil
}

// SweepExpiredLocks clears every lock whose heartbeat is older than ttl
// and returns the cleared ideas so the caller can broadcast them.
func (s *PostgresStore) SweepExpiredLocks(ctx context.Context, ttl time.Duration) ([]Idea, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE ideas
		SET editing_by=NULL, editing_at=NULL
		WHERE editing_by IS NOT NULL AND editing_at < NOW() - $1::interval
		RETURNING `+ideaColumns+`
	`, ttl.String())
	if err != nil {
		return nil, fmt.Errorf("sweep locks: %w", err)
	}
	defer rows.Close()

	cleared := make([]Idea, 0)
	for rows.Next() {
		item, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swept idea: %w", err)
		}
		cleared = append(cleared, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swept ideas: %w", err)
	}
	return cleared, nil
}
