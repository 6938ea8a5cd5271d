package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alumnihub/alumnihub/internal/model"
)

// ErrEmailTaken is returned when a member with the same email exists.
var ErrEmailTaken = errors.New("email already registered")

type MemberStore struct {
	db *sql.DB
}

func NewMemberStore(db *sql.DB) *MemberStore {
	return &MemberStore{db: db}
}

func (s *MemberStore) Create(ctx context.Context, name, email string) (*model.Member, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO members (name, email) VALUES (?, ?)`, name, email,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert member: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *MemberStore) GetByID(ctx context.Context, id int64) (*model.Member, error) {
	var m model.Member
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM members WHERE id = ?`, id,
	).Scan(&m.ID, &m.Name, &m.Email, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}
