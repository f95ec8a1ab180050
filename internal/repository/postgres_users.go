package repository

import (
	"context"

	"github.com/Shivanand-hulikatti/event-reservations/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository reads user profiles. Accounts are managed elsewhere; this
// service only needs organizer details for display.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository constructs a UserRepository.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns a single user or ErrNotFound.
func (r *UserRepository) GetByID(ctx context.Context, id string) (model.User, error) {
	var (
		u    model.User
		role string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, first_name, last_name, email, role FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &role)
	if err != nil {
		return model.User{}, classify("get user", err)
	}
	u.Role = model.Role(role)
	return u, nil
}
