package platformadmin

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/La-R19/fiverecruit/pkg/apperr"
	"github.com/La-R19/fiverecruit/pkg/storage/postgres"
)

// Admin is one row of platform_admins
type Admin struct {
	UserID    string    `json:"user_id"`
	GrantedBy string    `json:"granted_by"`
	GrantedAt time.Time `json:"granted_at"`
	Note      string    `json:"note,omitempty"`
}

// Store reads and writes platform_admins
type Store struct {
	db *sql.DB

	// rowLock is appended to the revoke lock query; empty on SQLite
	rowLock string
}

// NewStore creates an admin store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, rowLock: " FOR UPDATE"}
}

// IsAdmin reports whether userID is a platform admin
func (s *Store) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	var found string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM platform_admins WHERE user_id = $1`, userID).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check platform admin: %w", err)
	}
	return true, nil
}

// Count returns the number of platform admins
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM platform_admins`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count platform admins: %w", err)
	}
	return n, nil
}

// List returns every admin, oldest grant first
func (s *Store) List(ctx context.Context) ([]*Admin, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, granted_by, granted_at, note FROM platform_admins ORDER BY granted_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list platform admins: %w", err)
	}
	defer rows.Close()

	admins := make([]*Admin, 0)
	for rows.Next() {
		var a Admin
		if err := rows.Scan(&a.UserID, &a.GrantedBy, &a.GrantedAt, &a.Note); err != nil {
			return nil, fmt.Errorf("failed to scan platform admin: %w", err)
		}
		admins = append(admins, &a)
	}
	return admins, rows.Err()
}

// Insert adds an admin. An existing row is a ConflictError.
func (s *Store) Insert(ctx context.Context, a *Admin) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_admins (user_id, granted_by, granted_at, note)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, a.UserID, a.GrantedBy, a.GrantedAt.UTC(), a.Note)
	if err != nil {
		return fmt.Errorf("failed to grant platform admin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Conflict("admin", "already an admin")
	}
	return nil
}

// InsertFirst adds an admin only while the table is empty
func (s *Store) InsertFirst(ctx context.Context, a *Admin) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_admins (user_id, granted_by, granted_at, note)
		SELECT $1, $2, $3, $4
		WHERE NOT EXISTS (SELECT 1 FROM platform_admins)
	`, a.UserID, a.GrantedBy, a.GrantedAt.UTC(), a.Note)
	if err != nil {
		return fmt.Errorf("failed to bootstrap platform admin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Conflict("admin", "platform admins already exist")
	}
	return nil
}

// Delete removes an admin, refusing to remove the last one
func (s *Store) Delete(ctx context.Context, userID string) error {
	return postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT user_id FROM platform_admins`+s.rowLock)
		if err != nil {
			return fmt.Errorf("failed to lock platform admins: %w", err)
		}
		var (
			count   int
			present bool
		)
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan platform admin: %w", err)
			}
			count++
			present = present || id == userID
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if !present {
			return apperr.ErrNotFound
		}
		if count <= 1 {
			return apperr.Conflict("admin", "cannot revoke the last platform admin")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM platform_admins WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to revoke platform admin: %w", err)
		}
		return nil
	})
}
