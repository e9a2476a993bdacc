package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"gathering-marketplace/backend/internal/identity/domain"
	"gathering-marketplace/backend/internal/identity/repository"
	roledomain "gathering-marketplace/backend/internal/role/domain"
	"gathering-marketplace/backend/internal/security"
)

// Sentinel errors for provisioning.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrPrimaryNotAssigned     = errors.New("primary role must be one of the assigned roles")
)

var simpleEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// RoleAssigner grants roles. *rolerepository.PostgresRepository implements it.
type RoleAssigner interface {
	Assign(ctx context.Context, a roledomain.Assignment) error
}

// NewIdentity describes an account to provision.
type NewIdentity struct {
	Email         string
	Password      string
	EmailVerified bool
	Roles         []roledomain.RoleCode
	// Primary must be one of Roles. Empty means the first role.
	Primary   roledomain.RoleCode
	GrantedBy string
}

// Provisioner creates identities and their initial role assignments. Sign-up flows live in the
// wider application; the auth core uses this for seeding and tests.
type Provisioner struct {
	identities repository.Repository
	roles      RoleAssigner
	hasher     *security.Hasher
	now        func() time.Time
}

// NewProvisioner returns a Provisioner with the given dependencies.
func NewProvisioner(identities repository.Repository, roles RoleAssigner, hasher *security.Hasher) *Provisioner {
	return &Provisioner{
		identities: identities,
		roles:      roles,
		hasher:     hasher,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateIdentity validates in, hashes the password, persists the identity and grants its roles.
// Returns ErrEmailAlreadyRegistered when the e-mail is taken.
func (p *Provisioner) CreateIdentity(ctx context.Context, in NewIdentity) (*domain.Identity, error) {
	email := domain.NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	primary := in.Primary
	if primary == "" && len(in.Roles) > 0 {
		primary = in.Roles[0]
	}
	if primary != "" && !containsRole(in.Roles, primary) {
		return nil, ErrPrimaryNotAssigned
	}
	existing, err := p.identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := p.hasher.Hash([]byte(in.Password))
	if err != nil {
		return nil, err
	}
	now := p.now()
	ident := &domain.Identity{
		ID:            uuid.New().String(),
		Email:         email,
		PasswordHash:  hashed,
		EmailVerified: in.EmailVerified,
		Status:        domain.IdentityStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.identities.Create(ctx, ident); err != nil {
		return nil, err
	}
	for _, code := range in.Roles {
		a := roledomain.Assignment{
			IdentityID: ident.ID,
			RoleCode:   code,
			IsPrimary:  code == primary,
			GrantedBy:  in.GrantedBy,
			GrantedAt:  now,
		}
		if err := p.roles.Assign(ctx, a); err != nil {
			return nil, fmt.Errorf("assign %s: %w", code, err)
		}
	}
	return ident, nil
}

func containsRole(roles []roledomain.RoleCode, code roledomain.RoleCode) bool {
	for _, r := range roles {
		if r == code {
			return true
		}
	}
	return false
}

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if !simpleEmail.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return errors.New("password must be at least 12 characters")
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	if !hasUpper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return errors.New("password must contain at least one number")
	}
	if !hasSymbol {
		return errors.New("password must contain at least one symbol")
	}
	return nil
}
