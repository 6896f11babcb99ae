package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tmarkov/authgate/internal/authcore"
)

const placeholderSecretLength = 12

var (
	// ErrUserAlreadyExists indicates the email is already registered.
	ErrUserAlreadyExists = errors.New("directory.user_already_exists")
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	// The two cases are indistinguishable to callers to resist enumeration.
	ErrInvalidCredentials = errors.New("directory.invalid_credentials")
	// ErrUserNotFound indicates no user matched the lookup key.
	ErrUserNotFound = errors.New("directory.user_not_found")
	// ErrOAuthLinkConflict indicates a concurrent callback already linked the
	// provider. Retrying would silently violate at-most-one-link semantics, so
	// the flow fails instead.
	ErrOAuthLinkConflict = errors.New("directory.oauth_link_conflict")
)

// Directory owns the user entity and its OAuth linkage. Each write runs as a
// single transaction; unique constraints at the storage layer are the only
// concurrency control.
type Directory struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDirectory constructs a Directory over an opened database handle.
func NewDirectory(db *gorm.DB, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{db: db, logger: logger}
}

// NormalizeEmail lowercases and trims an email so uniqueness is
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create registers a new user. The email pre-check and the unique constraint
// are defense in depth: a concurrent duplicate insert caught at commit time is
// reported as the same ErrUserAlreadyExists.
func (directory *Directory) Create(ctx context.Context, email string, password string, fullName string) (*User, error) {
	normalizedEmail := NormalizeEmail(email)

	var existingCount int64
	if countErr := directory.db.WithContext(ctx).Model(&User{}).Where("email = ?", normalizedEmail).Count(&existingCount).Error; countErr != nil {
		return nil, fmt.Errorf("directory.create.lookup: %w", countErr)
	}
	if existingCount > 0 {
		return nil, fmt.Errorf("directory.create: %w", ErrUserAlreadyExists)
	}

	hashedPassword, hashErr := authcore.HashPassword(password)
	if hashErr != nil {
		return nil, fmt.Errorf("directory.create.hash: %w", hashErr)
	}

	record := User{
		Email:          normalizedEmail,
		HashedPassword: hashedPassword,
		FullName:       fullName,
	}
	if insertErr := directory.db.WithContext(ctx).Create(&record).Error; insertErr != nil {
		if isDuplicateKeyError(insertErr) {
			return nil, fmt.Errorf("directory.create: %w", ErrUserAlreadyExists)
		}
		return nil, fmt.Errorf("directory.create.insert: %w", insertErr)
	}
	return &record, nil
}

// Authenticate looks a user up by email and verifies the password. Unknown
// email and wrong password both return ErrInvalidCredentials; only internal
// logs distinguish them.
func (directory *Directory) Authenticate(ctx context.Context, email string, password string) (*User, error) {
	normalizedEmail := NormalizeEmail(email)

	var record User
	lookupErr := directory.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&record).Error
	if lookupErr != nil {
		if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			directory.logger.Debug("authentication failed: unknown email")
			return nil, fmt.Errorf("directory.authenticate: %w", ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("directory.authenticate.lookup: %w", lookupErr)
	}
	if !authcore.VerifyPassword(password, record.HashedPassword) {
		directory.logger.Debug("authentication failed: password mismatch", zap.Uint("user_id", record.ID))
		return nil, fmt.Errorf("directory.authenticate: %w", ErrInvalidCredentials)
	}
	return &record, nil
}

// FindByEmail returns the user registered under the email.
func (directory *Directory) FindByEmail(ctx context.Context, email string) (*User, error) {
	var record User
	lookupErr := directory.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).Take(&record).Error
	if lookupErr != nil {
		if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("directory.find_by_email: %w", ErrUserNotFound)
		}
		return nil, fmt.Errorf("directory.find_by_email: %w", lookupErr)
	}
	return &record, nil
}

// FindOrCreateOAuthUser reconciles an external identity with the local
// directory. The operation is idempotent on the happy path: repeated calls
// with the same identity return the same user and leave exactly one link. The
// user row commits independently of the link row, so a failed link insert can
// be retried by a later callback.
func (directory *Directory) FindOrCreateOAuthUser(ctx context.Context, email string, provider string, externalID string, fullName string) (*User, error) {
	normalizedEmail := NormalizeEmail(email)

	var user User
	lookupErr := directory.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&user).Error
	switch {
	case errors.Is(lookupErr, gorm.ErrRecordNotFound):
		created, createErr := directory.createOAuthUser(ctx, normalizedEmail, fullName)
		if createErr != nil {
			return nil, createErr
		}
		user = *created
	case lookupErr != nil:
		return nil, fmt.Errorf("directory.oauth_user.lookup: %w", lookupErr)
	}

	var linkCount int64
	if countErr := directory.db.WithContext(ctx).Model(&OAuthLink{}).
		Where("user_id = ? AND provider = ?", user.ID, provider).
		Count(&linkCount).Error; countErr != nil {
		return nil, fmt.Errorf("directory.oauth_link.lookup: %w", countErr)
	}
	if linkCount > 0 {
		return &user, nil
	}

	link := OAuthLink{
		UserID:     user.ID,
		Provider:   provider,
		ExternalID: externalID,
	}
	if insertErr := directory.db.WithContext(ctx).Create(&link).Error; insertErr != nil {
		if isDuplicateKeyError(insertErr) {
			directory.logger.Error("concurrent oauth link creation detected",
				zap.Uint("user_id", user.ID),
				zap.String("provider", provider))
			return nil, fmt.Errorf("directory.oauth_link: %w", ErrOAuthLinkConflict)
		}
		return nil, fmt.Errorf("directory.oauth_link.insert: %w", insertErr)
	}
	return &user, nil
}

func (directory *Directory) createOAuthUser(ctx context.Context, normalizedEmail string, fullName string) (*User, error) {
	placeholderSecret, secretErr := authcore.GenerateRandomSecret(placeholderSecretLength)
	if secretErr != nil {
		return nil, fmt.Errorf("directory.oauth_user.secret: %w", secretErr)
	}
	hashedPassword, hashErr := authcore.HashPassword(placeholderSecret)
	if hashErr != nil {
		return nil, fmt.Errorf("directory.oauth_user.hash: %w", hashErr)
	}
	if fullName == "" {
		fullName = "OAuth User"
	}
	record := User{
		Email:          normalizedEmail,
		HashedPassword: hashedPassword,
		FullName:       fullName,
	}
	if insertErr := directory.db.WithContext(ctx).Create(&record).Error; insertErr != nil {
		if isDuplicateKeyError(insertErr) {
			// A concurrent callback created the user between lookup and
			// insert; re-read it and continue with linking.
			var existing User
			if rereadErr := directory.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&existing).Error; rereadErr != nil {
				return nil, fmt.Errorf("directory.oauth_user.reread: %w", rereadErr)
			}
			return &existing, nil
		}
		return nil, fmt.Errorf("directory.oauth_user.insert: %w", insertErr)
	}
	return &record, nil
}

// isDuplicateKeyError recognizes unique-constraint violations across the
// supported drivers. GORM's translated sentinel covers most cases; the message
// sniff covers drivers opened without error translation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := err.Error()
	return strings.Contains(message, "UNIQUE constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
