package users

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/teilehub/teilehub/internal/shared"
)

type fakeUserRepo struct {
	users  map[int64]User
	nextID int64
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]User), nextID: 1}
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, email, name, passwordHash string) (User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return User{}, shared.FieldConflict(CodeEmailConflict, "email", fmt.Sprintf("email %q is already registered", email))
		}
	}
	user := User{ID: f.nextID, Email: email, Name: name, PasswordHash: passwordHash}
	f.nextID++
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeUserRepo) GetUser(ctx context.Context, id int64) (User, error) {
	user, ok := f.users[id]
	if !ok {
		return User{}, shared.NotFound(CodeUserNotFound, "user not found")
	}
	return user, nil
}

func (f *fakeUserRepo) GetUserByEmail(ctx context.Context, email string) (User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, shared.NotFound(CodeUserNotFound, "user not found")
}

func (f *fakeUserRepo) ListUsers(ctx context.Context) ([]User, error) {
	out := make([]User, 0, len(f.users))
	for _, user := range f.users {
		out = append(out, user)
	}
	return out, nil
}

func (f *fakeUserRepo) ApproveUser(ctx context.Context, id int64) (User, error) {
	user, ok := f.users[id]
	if !ok {
		return User{}, shared.NotFound(CodeUserNotFound, "user not found")
	}
	user.IsApproved = true
	user.IsActive = true
	f.users[id] = user
	return user, nil
}

func (f *fakeUserRepo) DeleteUser(ctx context.Context, id int64) error {
	if _, ok := f.users[id]; !ok {
		return shared.NotFound(CodeUserNotFound, "user not found")
	}
	delete(f.users, id)
	return nil
}

type fakeAdmins struct {
	holders map[int64]bool
}

func (f *fakeAdmins) UserHoldsRoleName(ctx context.Context, userID int64, roleName string) (bool, error) {
	return f.holders[userID], nil
}

func (f *fakeAdmins) CountUsersWithRoleName(ctx context.Context, roleName string) (int, error) {
	count := 0
	for _, holds := range f.holders {
		if holds {
			count++
		}
	}
	return count, nil
}

type sentMail struct {
	to, subject string
}

type fakeNotifier struct {
	sent []sentMail
}

func (f *fakeNotifier) EnqueueMail(ctx context.Context, to, subject, body string) error {
	f.sent = append(f.sent, sentMail{to: to, subject: subject})
	return nil
}

func newTestUserService(repo *fakeUserRepo, admins *fakeAdmins, notifier *fakeNotifier, primaryAdmin string) *Service {
	return NewService(Config{
		Repo:              repo,
		Admins:            admins,
		Notifier:          notifier,
		AdminRole:         "admin",
		PrimaryAdminEmail: primaryAdmin,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestRegisterHashesPasswordAndNormalisesEmail(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestUserService(repo, &fakeAdmins{holders: map[int64]bool{}}, &fakeNotifier{}, "")

	user, err := svc.Register(context.Background(), "  Hans@Example.COM ", " Hans ", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "hans@example.com", user.Email)
	assert.Equal(t, "Hans", user.Name)
	assert.False(t, user.IsApproved)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("s3cret-pass")))
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestUserService(repo, &fakeAdmins{holders: map[int64]bool{}}, &fakeNotifier{}, "")

	_, err := svc.Register(context.Background(), "hans@example.com", "Hans", "short")
	require.Error(t, err)
	assert.Equal(t, CodeWeakPassword, shared.CodeOf(err))
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestUserService(repo, &fakeAdmins{holders: map[int64]bool{}}, &fakeNotifier{}, "")

	_, err := svc.Register(context.Background(), "hans@example.com", "Hans", "s3cret-pass")
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), "HANS@example.com", "Hans II", "s3cret-pass")
	require.Error(t, err)
	assert.Equal(t, CodeEmailConflict, shared.CodeOf(err))
}

func TestApproveActivatesAndNotifies(t *testing.T) {
	repo := newFakeUserRepo()
	notifier := &fakeNotifier{}
	svc := newTestUserService(repo, &fakeAdmins{holders: map[int64]bool{}}, notifier, "")

	user, err := svc.Register(context.Background(), "hans@example.com", "Hans", "s3cret-pass")
	require.NoError(t, err)

	approved, err := svc.Approve(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, approved.IsApproved)
	assert.True(t, approved.IsActive)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "hans@example.com", notifier.sent[0].to)

	_, err = svc.Approve(context.Background(), user.ID)
	require.Error(t, err)
	assert.Equal(t, CodeAlreadyApproved, shared.CodeOf(err))
}

func TestDeleteRejectsSelfDeletion(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestUserService(repo, &fakeAdmins{holders: map[int64]bool{}}, &fakeNotifier{}, "")

	err := svc.Delete(context.Background(), 5, 5)
	require.Error(t, err)
	assert.Equal(t, CodeSelfDeletionProtected, shared.CodeOf(err))
	assert.True(t, shared.IsBusinessRule(err))
}

func TestDeleteProtectsPrimaryAdmin(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestUserService(repo, &fakeAdmins{holders: map[int64]bool{}}, &fakeNotifier{}, "root@teilehub.local")

	user, err := svc.Register(context.Background(), "Root@teilehub.local", "Root", "s3cret-pass")
	require.NoError(t, err)

	err = svc.Delete(context.Background(), 99, user.ID)
	require.Error(t, err)
	assert.Equal(t, CodePrimaryAdminProtected, shared.CodeOf(err))
}

func TestDeleteProtectsLastAdmin(t *testing.T) {
	repo := newFakeUserRepo()
	admins := &fakeAdmins{holders: map[int64]bool{}}
	svc := newTestUserService(repo, admins, &fakeNotifier{}, "")

	user, err := svc.Register(context.Background(), "hans@example.com", "Hans", "s3cret-pass")
	require.NoError(t, err)
	admins.holders[user.ID] = true

	err = svc.Delete(context.Background(), 99, user.ID)
	require.Error(t, err)
	assert.Equal(t, CodeLastAdminProtected, shared.CodeOf(err))

	// A second admin lifts the protection.
	admins.holders[42] = true
	require.NoError(t, svc.Delete(context.Background(), 99, user.ID))
	_, err = svc.GetUser(context.Background(), user.ID)
	assert.True(t, shared.IsNotFound(err))
}

func TestDeleteNonAdminUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestUserService(repo, &fakeAdmins{holders: map[int64]bool{}}, &fakeNotifier{}, "")

	user, err := svc.Register(context.Background(), "hans@example.com", "Hans", "s3cret-pass")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(context.Background(), 99, user.ID))
}
