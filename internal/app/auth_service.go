package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/SkywardAI/kirin/internal/model"
	"github.com/SkywardAI/kirin/internal/pkg/jwtutil"
	"github.com/SkywardAI/kirin/internal/repository"
)

var (
	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
)

type AuthService struct {
	accountRepo   *repository.AccountRepository
	jwtSecret     string
	jwtExpiration time.Duration
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

type LoginInput struct {
	Username string
	Password string
}

type AuthResult struct {
	Token   string
	Account *model.Account
}

func NewAuthService(accountRepo *repository.AccountRepository, jwtSecret string, jwtExpiration time.Duration) *AuthService {
	return &AuthService{
		accountRepo:   accountRepo,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

func (s *AuthService) Register(input RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(strings.ToLower(input.Email))
	password := strings.TrimSpace(input.Password)

	if username == "" || email == "" || password == "" || len(password) < 8 {
		return nil, ErrInvalidInput
	}

	existingByName, err := s.accountRepo.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	if existingByName != nil {
		return nil, ErrUsernameExists
	}

	existingByEmail, err := s.accountRepo.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if existingByEmail != nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}

	account := &model.Account{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.accountRepo.Create(account); err != nil {
		return nil, err
	}

	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, account.ID, account.Username)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, Account: account}, nil
}

func (s *AuthService) Login(input LoginInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	password := strings.TrimSpace(input.Password)
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}

	account, err := s.accountRepo.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrInvalidCredential
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}

	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, account.ID, account.Username)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, Account: account}, nil
}

func (s *AuthService) GetAccountByID(id uint) (*model.Account, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	return s.accountRepo.GetByID(id)
}
