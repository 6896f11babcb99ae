package directory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func openTestDirectory(t *testing.T) *Directory {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "directory_test.db")
	db, openErr := Open(context.Background(), "sqlite://"+databasePath)
	if openErr != nil {
		t.Fatalf("unexpected open error: %v", openErr)
	}
	return NewDirectory(db, zaptest.NewLogger(t))
}

func TestOpenRejectsUnsupportedScheme(t *testing.T) {
	t.Parallel()

	_, openErr := Open(context.Background(), "mysql://localhost/users")
	if !errors.Is(openErr, ErrUnsupportedDialect) {
		t.Fatalf("expected ErrUnsupportedDialect, got %v", openErr)
	}
}

func TestOpenRejectsEmptyURL(t *testing.T) {
	t.Parallel()

	if _, openErr := Open(context.Background(), "   "); openErr == nil {
		t.Fatalf("expected an error for a blank database URL")
	}
}

func TestCreateThenAuthenticate(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)

	created, createErr := dir.Create(context.Background(), "Alice@Example.com", "longenough1", "Alice Example")
	if createErr != nil {
		t.Fatalf("unexpected create error: %v", createErr)
	}
	if created.Email != "alice@example.com" {
		t.Fatalf("expected the stored email to be normalized, got %q", created.Email)
	}
	if created.HashedPassword == "longenough1" {
		t.Fatalf("the stored password must be hashed")
	}

	authenticated, authErr := dir.Authenticate(context.Background(), "alice@example.com", "longenough1")
	if authErr != nil {
		t.Fatalf("unexpected authenticate error: %v", authErr)
	}
	if authenticated.ID != created.ID {
		t.Fatalf("expected the same user, got ids %d and %d", authenticated.ID, created.ID)
	}
}

func TestCreateDuplicateEmail(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)

	if _, createErr := dir.Create(context.Background(), "alice@example.com", "longenough1", "Alice"); createErr != nil {
		t.Fatalf("unexpected create error: %v", createErr)
	}
	_, duplicateErr := dir.Create(context.Background(), "ALICE@example.com", "different-pass", "Alice Again")
	if !errors.Is(duplicateErr, ErrUserAlreadyExists) {
		t.Fatalf("expected ErrUserAlreadyExists, got %v", duplicateErr)
	}
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)

	if _, createErr := dir.Create(context.Background(), "alice@example.com", "longenough1", "Alice"); createErr != nil {
		t.Fatalf("unexpected create error: %v", createErr)
	}

	_, wrongPasswordErr := dir.Authenticate(context.Background(), "alice@example.com", "wrong-password")
	if !errors.Is(wrongPasswordErr, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for a wrong password, got %v", wrongPasswordErr)
	}

	_, unknownEmailErr := dir.Authenticate(context.Background(), "nobody@example.com", "longenough1")
	if !errors.Is(unknownEmailErr, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for an unknown email, got %v", unknownEmailErr)
	}
}

func TestFindByEmail(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)

	created, createErr := dir.Create(context.Background(), "alice@example.com", "longenough1", "Alice")
	if createErr != nil {
		t.Fatalf("unexpected create error: %v", createErr)
	}

	found, findErr := dir.FindByEmail(context.Background(), "Alice@Example.com")
	if findErr != nil {
		t.Fatalf("unexpected find error: %v", findErr)
	}
	if found.ID != created.ID {
		t.Fatalf("expected user %d, got %d", created.ID, found.ID)
	}

	if _, missingErr := dir.FindByEmail(context.Background(), "nobody@example.com"); !errors.Is(missingErr, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", missingErr)
	}
}

func TestFindOrCreateOAuthUserIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)

	first, firstErr := dir.FindOrCreateOAuthUser(context.Background(), "alice@example.com", "google", "google-user-1", "Alice Example")
	if firstErr != nil {
		t.Fatalf("unexpected error: %v", firstErr)
	}
	second, secondErr := dir.FindOrCreateOAuthUser(context.Background(), "alice@example.com", "google", "google-user-1", "Alice Example")
	if secondErr != nil {
		t.Fatalf("unexpected error on repeat call: %v", secondErr)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same user across calls, got ids %d and %d", first.ID, second.ID)
	}

	var linkCount int64
	if countErr := dir.db.Model(&OAuthLink{}).Where("user_id = ?", first.ID).Count(&linkCount).Error; countErr != nil {
		t.Fatalf("unexpected count error: %v", countErr)
	}
	if linkCount != 1 {
		t.Fatalf("expected exactly one oauth link, got %d", linkCount)
	}
}

func TestFindOrCreateOAuthUserLinksSecondProviderToSameUser(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)

	googleUser, googleErr := dir.FindOrCreateOAuthUser(context.Background(), "alice@example.com", "google", "google-user-1", "Alice Example")
	if googleErr != nil {
		t.Fatalf("unexpected error: %v", googleErr)
	}
	githubUser, githubErr := dir.FindOrCreateOAuthUser(context.Background(), "alice@example.com", "github", "583231", "alice")
	if githubErr != nil {
		t.Fatalf("unexpected error: %v", githubErr)
	}
	if googleUser.ID != githubUser.ID {
		t.Fatalf("expected both providers to resolve the same user, got ids %d and %d", googleUser.ID, githubUser.ID)
	}

	var userCount int64
	if countErr := dir.db.Model(&User{}).Count(&userCount).Error; countErr != nil {
		t.Fatalf("unexpected count error: %v", countErr)
	}
	if userCount != 1 {
		t.Fatalf("expected one user row, got %d", userCount)
	}

	var linkCount int64
	if countErr := dir.db.Model(&OAuthLink{}).Where("user_id = ?", googleUser.ID).Count(&linkCount).Error; countErr != nil {
		t.Fatalf("unexpected count error: %v", countErr)
	}
	if linkCount != 2 {
		t.Fatalf("expected two distinct links, got %d", linkCount)
	}
}

func TestFindOrCreateOAuthUserReusesPasswordAccount(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)

	registered, createErr := dir.Create(context.Background(), "alice@example.com", "longenough1", "Alice Example")
	if createErr != nil {
		t.Fatalf("unexpected create error: %v", createErr)
	}

	linked, linkErr := dir.FindOrCreateOAuthUser(context.Background(), "alice@example.com", "google", "google-user-1", "Alice G")
	if linkErr != nil {
		t.Fatalf("unexpected error: %v", linkErr)
	}
	if linked.ID != registered.ID {
		t.Fatalf("expected the existing password account to be reused, got ids %d and %d", linked.ID, registered.ID)
	}

	// The original password keeps working after linking.
	if _, authErr := dir.Authenticate(context.Background(), "alice@example.com", "longenough1"); authErr != nil {
		t.Fatalf("expected the password to still authenticate, got %v", authErr)
	}
}

func TestFindOrCreateOAuthUserPlaceholderPasswordNeverMatchesEmpty(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)

	created, createErr := dir.FindOrCreateOAuthUser(context.Background(), "alice@example.com", "google", "google-user-1", "")
	if createErr != nil {
		t.Fatalf("unexpected error: %v", createErr)
	}
	if created.FullName != "OAuth User" {
		t.Fatalf("expected the default display name, got %q", created.FullName)
	}
	if created.HashedPassword == "" {
		t.Fatalf("expected a hashed placeholder password")
	}
	if _, authErr := dir.Authenticate(context.Background(), "alice@example.com", ""); !errors.Is(authErr, ErrInvalidCredentials) {
		t.Fatalf("expected an empty password to fail, got %v", authErr)
	}
}

func TestFindOrCreateOAuthUserConflictOnDuplicateLinkInsert(t *testing.T) {
	t.Parallel()

	dir := openTestDirectory(t)

	user, userErr := dir.FindOrCreateOAuthUser(context.Background(), "alice@example.com", "google", "google-user-1", "Alice")
	if userErr != nil {
		t.Fatalf("unexpected error: %v", userErr)
	}

	// Simulate the race window: a second callback inserting the link after the
	// count check observed zero rows.
	duplicate := OAuthLink{UserID: user.ID, Provider: "google", ExternalID: "google-user-1"}
	insertErr := dir.db.Create(&duplicate).Error
	if !errors.Is(insertErr, gorm.ErrDuplicatedKey) && !isDuplicateKeyError(insertErr) {
		t.Fatalf("expected the unique constraint to reject a duplicate link, got %v", insertErr)
	}
}
