package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/microtask/backend/internal/apperr"
	"github.com/microtask/backend/internal/models"
	"github.com/microtask/backend/internal/repository"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrInvalidCredentials covers unknown emails, wrong passwords and bad tokens alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// DefaultTokenTTL is used when the service is built with a zero TTL.
const DefaultTokenTTL = 24 * time.Hour

type Service interface {
	Register(ctx context.Context, email, password, displayName string, role models.Role) (*models.Account, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, models.Role, error)
	Me(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// Crediter grants the signup bonus inside the registration transaction.
type Crediter interface {
	Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, entry models.EntryType, ref uuid.UUID) (int64, error)
}

type service struct {
	db       repository.TxBeginner
	accounts AccountRepo
	ledger   Crediter
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func NewService(store *repository.Store, ledger Crediter, secret string, ttl time.Duration, log *slog.Logger) *service {
	if secret == "" {
		secret = "supersecretmvp"
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &service{
		db:       store.DB,
		accounts: store.Accounts,
		ledger:   ledger,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
		log:      log,
	}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role models.Role `json:"role"`
}

// Register creates the account with a zero balance and credits the role's
// starting grant as a signup_bonus entry in the same transaction.
func (s *service) Register(ctx context.Context, email, password, displayName string, role models.Role) (*models.Account, error) {
	if !role.Registrable() {
		return nil, apperr.Validation("invalid role %q", role)
	}
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Validation("email and password are required")
	}
	return s.create(ctx, email, password, strings.TrimSpace(displayName), role)
}

func (s *service) create(ctx context.Context, email, password, displayName string, role models.Role) (*models.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer tx.Rollback(ctx)

	acc := &models.Account{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := s.accounts.Create(ctx, tx, acc); err != nil {
		if apperr.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, apperr.Storage(err)
	}
	if bonus := role.StartingBalance(); bonus > 0 {
		balance, err := s.ledger.Credit(ctx, tx, acc.ID, bonus, models.EntrySignupBonus, uuid.Nil)
		if err != nil {
			return nil, err
		}
		acc.CoinBalance = balance
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Storage(err)
	}
	s.log.Info("account registered", "account_id", acc.ID, "role", role, "coin_balance", acc.CoinBalance)
	return acc, nil
}

// EnsureAdmin creates the administrator account on first start. An existing
// account with the same email must already be an admin.
func (s *service) EnsureAdmin(ctx context.Context, email, password string) (*models.Account, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Validation("admin email and password are required")
	}
	existing, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role != models.RoleAdmin {
			return nil, fmt.Errorf("account %s exists with role %s: %w", email, existing.Role, apperr.ErrInvalidState)
		}
		return existing, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}
	acc, err := s.create(ctx, email, password, "Administrator", models.RoleAdmin)
	if errors.Is(err, ErrDuplicateEmail) {
		return s.accounts.GetByEmail(ctx, email)
	}
	return acc, err
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	acc, err := s.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(acc.ID, acc.Role)
}

func (s *service) issueToken(userID uuid.UUID, role models.Role) (string, error) {
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, models.Role, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || !c.Role.Valid() {
		return uuid.Nil, "", ErrInvalidCredentials
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: bad subject", ErrInvalidCredentials)
	}
	return id, c.Role, nil
}

func (s *service) Me(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.accounts.GetByID(ctx, id)
}
