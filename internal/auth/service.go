package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/academyhub/backend/internal/models"
)

var (
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const tokenTTL = 12 * time.Hour

// Principal is the reviewer identity carried by a staff token.
type Principal struct {
	UserID         uuid.UUID
	OrganizationID string
	Role           string
}

type Store interface {
	Create(ctx context.Context, u *models.StaffUser) error
	GetByEmail(ctx context.Context, email string) (*models.StaffUser, error)
}

type Service interface {
	Register(ctx context.Context, orgID, email, password, displayName, role string) (*models.StaffUser, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (Principal, error)
}

type service struct {
	store  Store
	secret []byte
	now    func() time.Time
}

func NewService(store Store, secret string) *service {
	return &service{store: store, secret: []byte(secret), now: time.Now}
}

var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"org"`
	Role           string `json:"role"`
}

func (s *service) Register(ctx context.Context, orgID, email, password, displayName, role string) (*models.StaffUser, error) {
	if role != models.StaffRoleReviewer && role != models.StaffRoleAdmin {
		return nil, ErrInvalidRole
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &models.StaffUser{
		OrganizationID: orgID,
		Email:          strings.ToLower(strings.TrimSpace(email)),
		DisplayName:    displayName,
		Role:           role,
		PasswordHash:   string(hash),
	}
	if err := s.store.Create(ctx, u); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.store.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(u)
}

func (s *service) issueToken(u *models.StaffUser) (string, error) {
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		OrganizationID: u.OrganizationID,
		Role:           u.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

func (s *service) ValidateToken(_ context.Context, token string) (Principal, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, errors.Join(ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || c.OrganizationID == "" {
		return Principal{}, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Principal{}, errors.Join(ErrInvalidToken, err)
	}
	return Principal{UserID: id, OrganizationID: c.OrganizationID, Role: c.Role}, nil
}
