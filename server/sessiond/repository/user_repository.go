package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"readsync/server/sessiond/domain"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

type UserRecord struct {
	domain.User
	PasswordHash string
}

func (r *UserRepository) CreateUser(ctx context.Context, user UserRecord) (domain.User, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users(user_id, email, name, avatar_url, password_hash)
		VALUES($1, $2, $3, $4, $5)
		RETURNING created_at
	`, user.ID, user.Email, user.Name, user.AvatarURL, user.PasswordHash).Scan(&user.CreatedAt)
	if err != nil {
		return domain.User{}, err
	}
	return user.User, nil
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	var user UserRecord
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, email, name, avatar_url, password_hash, created_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.Name, &user.AvatarURL, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRecord{}, ErrNoRow
		}
		return UserRecord{}, err
	}
	return user, nil
}

func (r *UserRepository) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var user domain.User
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, email, name, avatar_url, created_at
		FROM users
		WHERE user_id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.Name, &user.AvatarURL, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrNoRow
		}
		return domain.User{}, err
	}
	return user, nil
}
