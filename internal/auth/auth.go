package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"samay/internal/apperr"
	"samay/internal/config"
	"samay/internal/logger"
	"samay/internal/storage"
)

const minPasswordLength = 8

// Claims is the JWT payload. Subject carries the user id.
type Claims struct {
	Role storage.Role `json:"role"`
	jwt.RegisteredClaims
}

type RegisterInput struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

type LoginInput struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Response is returned by Register and Login
type Response struct {
	User  *storage.User `json:"user"`
	Token string        `json:"token"`
}

type Service struct {
	store      *storage.Storage
	secret     []byte
	sessionTTL time.Duration
	bcryptCost int
	now        func() time.Time
}

func NewService(st *storage.Storage, cfg config.AuthConfig) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret not configured")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		store:      st,
		secret:     []byte(cfg.JWTSecret),
		sessionTTL: cfg.SessionTTL,
		bcryptCost: cfg.BcryptCost,
		now:        time.Now,
	}, nil
}

// WithClock swaps the time source used for token and session expiry
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperr.Validation("Invalid email format")
	}
	return nil
}

// ValidatePassword requires at least 8 characters with an upper-case
// letter, a lower-case letter and a digit.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperr.Validation("Password must be at least 8 characters")
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return apperr.Validation("Password must contain at least one uppercase letter, one lowercase letter, one number")
	}
	return nil
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Response, error) {
	email := normalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("Name is required")
	}

	existing, err := s.store.Users.GetByEmail(ctx, nil, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Conflict("USER_EXISTS", "User with this email already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &storage.User{Email: email, Name: name, Password: string(hash), Role: storage.RoleUser}
	var token string
	err = s.store.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.store.Users.Create(ctx, tx, user); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict("USER_EXISTS", "User with this email already exists")
			}
			return err
		}
		token, err = s.issue(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.ForComponent("auth").WithField("user_id", user.ID).Info("User registered")
	return &Response{User: user, Token: token}, nil
}

func (s *Service) Login(ctx context.Context, in LoginInput) (*Response, error) {
	invalid := apperr.Unauthorized("INVALID_CREDENTIALS", "Invalid email or password")

	user, err := s.store.Users.GetByEmail(ctx, nil, normalizeEmail(in.Email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(in.Password)); err != nil {
		return nil, invalid
	}

	token, err := s.issue(ctx, nil, user)
	if err != nil {
		return nil, err
	}
	return &Response{User: user, Token: token}, nil
}

// Logout deletes the session behind token
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return apperr.Unauthorized("INVALID_TOKEN", "Invalid or expired token")
	}
	n, err := s.store.Sessions.DeleteByToken(ctx, nil, token)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Unauthorized("INVALID_TOKEN", "Invalid or expired token")
	}
	return nil
}

func (s *Service) Me(ctx context.Context, userID string) (*storage.User, error) {
	user, err := s.store.Users.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("USER_NOT_FOUND", "User not found")
	}
	return user, nil
}

// Authenticate checks the signature and an unexpired session row, then
// loads the user.
func (s *Service) Authenticate(ctx context.Context, token string) (*storage.User, error) {
	unauthorized := apperr.Unauthorized("", "Unauthorized")
	if token == "" {
		return nil, unauthorized
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, unauthorized
	}

	session, err := s.store.Sessions.GetActive(ctx, nil, token, s.now())
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != claims.Subject {
		return nil, unauthorized
	}

	user, err := s.store.Users.GetByID(ctx, nil, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, unauthorized
	}
	return user, nil
}

// issue signs a token for user and records its session
func (s *Service) issue(ctx context.Context, tx *gorm.DB, user *storage.User) (string, error) {
	now := s.now()
	expires := now.Add(s.sessionTTL)
	claims := Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	if err := s.store.Sessions.Create(ctx, tx, &storage.Session{
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: expires,
	}); err != nil {
		return "", err
	}
	return token, nil
}

// DeleteExpiredSessions removes sessions past their expiry
func (s *Service) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	return s.store.Sessions.DeleteExpired(ctx, nil, s.now())
}
