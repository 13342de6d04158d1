package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carryconnect/carryconnect/internal/model"
	"github.com/carryconnect/carryconnect/internal/utils"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

var ErrEmailExists = errors.New("email already exists")

// Create inserts a user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, email, password, displayName, contact string, cost int) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = r.DB.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, display_name, contact, created_at_us) VALUES (?,?,?,?,?,?)",
		id, email, hash, strings.TrimSpace(displayName), strings.TrimSpace(contact), toMicros(time.Now()))
	if err != nil {
		if isDuplicateKey(err) {
			return "", ErrEmailExists
		}
		return "", classify(err)
	}
	return id, nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.get(ctx, "SELECT id,email,password_hash,display_name,contact,created_at_us FROM users WHERE email=? LIMIT 1", email)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	return r.get(ctx, "SELECT id,email,password_hash,display_name,contact,created_at_us FROM users WHERE id=? LIMIT 1", id)
}

func (r *UserRepo) get(ctx context.Context, q string, arg any) (model.User, error) {
	var u model.User
	var created int64
	err := r.DB.QueryRowContext(ctx, q, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Contact, &created)
	if err != nil {
		// sql.ErrNoRows passes through unchanged
		return model.User{}, classify(err)
	}
	u.CreatedAt = fromMicros(created)
	return u, nil
}
