package devbackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models/passwd"
	"github.com/google/uuid"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("an account with this email already exists")
)

// User is an account held by the development backend.
type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	Phone        string
	PasswordHash string
	Role         models.Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsActive     bool
}

// Account returns the user in the shape the auth endpoints send.
func (u *User) Account() models.Account {
	return models.Account{
		ID:        models.FlexibleID(u.ID),
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
		UserType:  u.Role.String(),
	}
}

// CreateUserParams describes a new account. An empty Role means RoleUser.
type CreateUserParams struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Password  string
	Role      models.Role
}

// Directory is the in-memory user table. Every method returns copies.
type Directory struct {
	log    *slog.Logger
	hasher passwd.Hasher
	now    func() time.Time

	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string // lower-cased email -> id
}

// NewDirectory returns an empty Directory hashing passwords with hasher.
func NewDirectory(logger *slog.Logger, hasher passwd.Hasher) *Directory {
	return &Directory{
		log:     logutil.OrDiscard(logger),
		hasher:  hasher,
		now:     time.Now,
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CheckEmailExists reports whether an account uses email.
func (d *Directory) CheckEmailExists(_ context.Context, email string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byEmail[emailKey(email)]
	return ok
}

// CreateUser stores a new active account.
func (d *Directory) CreateUser(ctx context.Context, args CreateUserParams) (*User, error) {
	defer logutil.NewTimingLogger(d.log, time.Now(), "created user", "email", args.Email)()
	errMsg := "failed to create user"

	if args.Role == "" {
		args.Role = models.RoleUser
	}
	if !args.Role.IsValid() {
		return nil, logutil.LogAndWrapErr(d.log, errMsg, invalidRole(args.Role))
	}
	if emailKey(args.Email) == "" {
		return nil, logutil.DebugAndWrapErr(d.log, errMsg, models.NewFieldError("email", "email is required"))
	}

	hash, err := d.hasher.Hash(args.Password)
	if err != nil {
		return nil, logutil.DebugAndWrapErr(d.log, errMsg, models.NewFieldError("password", err.Error()))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, taken := d.byEmail[emailKey(args.Email)]; taken {
		return nil, logutil.DebugAndWrapErr(d.log, errMsg, ErrEmailTaken, "email", args.Email)
	}

	now := d.now()
	u := &User{
		ID:           uuid.NewString(),
		Email:        strings.TrimSpace(args.Email),
		FirstName:    strings.TrimSpace(args.FirstName),
		LastName:     strings.TrimSpace(args.LastName),
		Phone:        strings.TrimSpace(args.Phone),
		PasswordHash: hash,
		Role:         args.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
		IsActive:     true,
	}
	d.byID[u.ID] = u
	d.byEmail[emailKey(u.Email)] = u.ID

	c := *u
	return &c, nil
}

// GetUserByEmail returns ErrUserNotFound when no account uses email.
func (d *Directory) GetUserByEmail(_ context.Context, email string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEmail[emailKey(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *d.byID[id]
	return &c, nil
}

// GetUserByPhone matches on the last ten digits of the stored number.
func (d *Directory) GetUserByPhone(_ context.Context, phone string) (*User, error) {
	want := tenDigits(phone)
	if want == "" {
		return nil, ErrUserNotFound
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.byID {
		if tenDigits(u.Phone) == want {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrUserNotFound
}

func tenDigits(s string) string {
	d := models.DigitsOnly(s)
	if len(d) > 10 {
		d = d[len(d)-10:]
	}
	return d
}

// GetUserByID returns ErrUserNotFound for unknown ids.
func (d *Directory) GetUserByID(_ context.Context, id string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

// ListAllUsers returns every account, oldest first.
func (d *Directory) ListAllUsers(_ context.Context) []*User {
	d.mu.RLock()
	out := make([]*User, 0, len(d.byID))
	for _, u := range d.byID {
		c := *u
		out = append(out, &c)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SoftDeleteUser deactivates an account. Its tokens stop working.
func (d *Directory) SoftDeleteUser(_ context.Context, id string) error {
	return d.update(id, func(u *User) error {
		u.IsActive = false
		return nil
	})
}

// UpdateUserRole changes the role reported through usertype.
func (d *Directory) UpdateUserRole(_ context.Context, id string, role models.Role) error {
	if !role.IsValid() {
		return invalidRole(role)
	}
	return d.update(id, func(u *User) error {
		u.Role = role
		return nil
	})
}

// UpdateUserPassword hashes and stores a new password.
func (d *Directory) UpdateUserPassword(_ context.Context, id, password string) error {
	hash, err := d.hasher.Hash(password)
	if err != nil {
		return models.NewFieldError("password", err.Error())
	}
	return d.update(id, func(u *User) error {
		u.PasswordHash = hash
		return nil
	})
}

// Authenticate returns the active account matching email and password.
func (d *Directory) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := d.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !u.IsActive || !passwd.Check(password, u.PasswordHash) {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (d *Directory) update(id string, fn func(*User) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	if err := fn(u); err != nil {
		return err
	}
	u.UpdatedAt = d.now()
	return nil
}

func invalidRole(r models.Role) error {
	return models.NewValidationError(fmt.Sprintf("invalid role %q, expected one of %s", r, strings.Join(models.ListRoles(), ", ")))
}
