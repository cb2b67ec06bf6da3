package user

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneRe = regexp.MustCompile(`^\+?1?\d{9,15}$`)
)

// MaxPasswordBytes is the longest password bcrypt can hash.
const MaxPasswordBytes = 72

const (
	usernameFilterCapacity = 100_000
	usernameFilterFPR      = 0.01
)

// Registration is the input of Register.
type Registration struct {
	Username        string `json:"username" validate:"required,max=50"`
	Password        string `json:"password" validate:"required,password_bytes"`
	ConfirmPassword string `json:"confirm_password"`
	Email           string `json:"email" validate:"required,max=100,email_address"`
	Phone           string `json:"phone" validate:"required,phone"`
}

// Service implements registration and login.
type Service struct {
	users     Repository
	passwords *Passwords
	validate  *validator.Validate

	// known is a bloom filter of registered usernames. A negative answer
	// skips the existence query; the unique constraint remains authoritative.
	mu    sync.RWMutex
	known *bloom.BloomFilter
	warm  bool
}

// NewService creates a user Service.
func NewService(users Repository, passwords *Passwords) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	for tag, fn := range map[string]validator.Func{
		"email_address": func(fl validator.FieldLevel) bool {
			return emailRe.MatchString(fl.Field().String())
		},
		"phone": func(fl validator.FieldLevel) bool {
			return phoneRe.MatchString(fl.Field().String())
		},
		// bcrypt only accepts the first MaxPasswordBytes bytes.
		"password_bytes": func(fl validator.FieldLevel) bool {
			return len(fl.Field().String()) <= MaxPasswordBytes
		},
	} {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register %q validation: %v", tag, err))
		}
	}

	return &Service{
		users:     users,
		passwords: passwords,
		validate:  v,
		known:     bloom.NewWithEstimates(usernameFilterCapacity, usernameFilterFPR),
	}
}

// WarmUsernames loads every registered username into the pre-check filter.
// Until it succeeds every registration queries the store.
func (s *Service) WarmUsernames(ctx context.Context) error {
	names, err := s.users.ListUsernames(ctx)
	if err != nil {
		return errors.Wrap(err, "list usernames")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		s.known.AddString(n)
	}
	s.warm = true
	zctx.From(ctx).Info("Username filter warmed", zap.Int("count", len(names)))
	return nil
}

func (s *Service) mayExist(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.warm || s.known.TestString(username)
}

func (s *Service) remember(username string) {
	s.mu.Lock()
	s.known.AddString(username)
	s.mu.Unlock()
}

// Register creates a customer account. New customers are not administrators
// and are eligible for the first-time discount.
func (s *Service) Register(ctx context.Context, r Registration) (*User, error) {
	return s.create(ctx, r, false)
}

// CreateAdmin creates an administrator account.
func (s *Service) CreateAdmin(ctx context.Context, r Registration) (*User, error) {
	return s.create(ctx, r, true)
}

func (s *Service) create(ctx context.Context, r Registration, admin bool) (*User, error) {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)

	if r.Password != r.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}
	if err := s.validateRegistration(r); err != nil {
		return nil, err
	}

	if s.mayExist(r.Username) {
		exists, err := s.users.UsernameExists(ctx, r.Username)
		if err != nil {
			return nil, errors.Wrap(err, "check username")
		}
		if exists {
			return nil, ErrUsernameTaken
		}
	}

	hash, err := s.passwords.Hash(r.Password)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	u := &User{
		Username:     r.Username,
		PasswordHash: hash,
		Email:        r.Email,
		Phone:        r.Phone,
		IsAdmin:      admin,
		FirstTime:    true,
	}
	id, err := s.users.Create(ctx, u)
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			s.remember(r.Username)
		}
		return nil, err
	}
	u.ID = id
	s.remember(u.Username)

	zctx.From(ctx).Info("User registered",
		zap.Int64("user_id", id),
		zap.Bool("admin", admin),
	)
	return u, nil
}

func (s *Service) validateRegistration(r Registration) error {
	err := s.validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.Wrap(err, "validate")
	}
	fe := verrs[0]
	reason := "invalid value"
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "max", "password_bytes":
		reason = "is too long"
	case "email_address":
		reason = "invalid email address"
	case "phone":
		reason = "invalid phone number"
	}
	return &ValidationError{Field: fe.Field(), Reason: reason}
}

// Authenticate checks credentials. Unknown usernames and wrong passwords are
// indistinguishable to the caller. Legacy digests are upgraded to bcrypt on a
// successful login.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	lg := zctx.From(ctx)

	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.passwords.Burn(password)
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "get user")
	}

	ok, legacy := s.passwords.Verify(u.PasswordHash, password)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if legacy {
		if hash, err := s.passwords.Hash(password); err != nil {
			lg.Warn("Rehash legacy password", zap.Error(err))
		} else if err := s.users.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
			lg.Warn("Store upgraded password hash", zap.Int64("user_id", u.ID), zap.Error(err))
		} else {
			u.PasswordHash = hash
			lg.Info("Legacy password hash upgraded", zap.Int64("user_id", u.ID))
		}
	}
	return u, nil
}

// Get returns the user by id.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return u, nil
}
