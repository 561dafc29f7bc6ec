package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"readsync/server/sessiond/domain"
	"readsync/server/sessiond/repository"
)

type userStore interface {
	CreateUser(ctx context.Context, user repository.UserRecord) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (repository.UserRecord, error)
	GetUser(ctx context.Context, userID string) (domain.User, error)
}

type UserService struct {
	store userStore
}

func NewUserService(store userStore) *UserService {
	return &UserService{store: store}
}

func (s *UserService) Register(ctx context.Context, email, name, password string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if email == "" || name == "" || password == "" {
		return domain.User{}, errors.New("email, name, password are required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}
	return s.store.CreateUser(ctx, repository.UserRecord{
		User:         domain.User{ID: uuid.NewString(), Email: email, Name: name},
		PasswordHash: string(hashed),
	})
}

func (s *UserService) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	record, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNoRow) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return record.User, nil
}

func (s *UserService) Get(ctx context.Context, userID string) (domain.User, error) {
	return s.store.GetUser(ctx, userID)
}
