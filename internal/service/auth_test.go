package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/collar-auth/internal/apperror"
	"github.com/sakif/collar-auth/internal/auth"
	"github.com/sakif/collar-auth/internal/model"
	"github.com/sakif/collar-auth/internal/repository"
	"github.com/sakif/collar-auth/internal/repository/memory"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// recordingSender remembers the last code sent to each phone.
type recordingSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{codes: make(map[string]string)}
}

func (r *recordingSender) Send(_ context.Context, phone, code string) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[phone] = code
	return nil
}

func (r *recordingSender) last(phone string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codes[phone]
}

// racingUserRepo loses the first CreateIfAbsent to a simulated concurrent
// request that registers the phone first.
type racingUserRepo struct {
	*memory.UserStore
	raced bool
}

func (r *racingUserRepo) CreateIfAbsent(ctx context.Context, phone, hash string) (model.User, error) {
	if !r.raced {
		r.raced = true
		if _, err := r.UserStore.CreateIfAbsent(ctx, phone, "winner-hash"); err != nil {
			return model.User{}, err
		}
		return model.User{}, apperror.Conflict("user", phone)
	}
	return r.UserStore.CreateIfAbsent(ctx, phone, hash)
}

// brokenUserRepo fails every call with a storage error.
type brokenUserRepo struct{}

var errStorage = errors.New("storage offline")

func (brokenUserRepo) FindByPhone(context.Context, string) (model.User, error) {
	return model.User{}, errStorage
}
func (brokenUserRepo) FindByID(context.Context, int64) (model.User, error) {
	return model.User{}, errStorage
}
func (brokenUserRepo) CreateIfAbsent(context.Context, string, string) (model.User, error) {
	return model.User{}, errStorage
}
func (brokenUserRepo) Save(context.Context, model.User) (model.User, error) {
	return model.User{}, errStorage
}

type testEnv struct {
	svc        *AuthService
	users      repository.UserRepository
	challenges *memory.ChallengeStore
	sender     *recordingSender
	tokens     *auth.TokenService
}

// newTestEnv wires an AuthService over fresh in-memory stores. Codes are
// random so tests must read them from the sender, as a phone would.
func newTestEnv(t *testing.T, sandbox bool, users repository.UserRepository) *testEnv {
	t.Helper()

	if users == nil {
		users = memory.NewUserStore()
	}
	challenges := memory.NewChallengeStore(memory.DefaultChallengeConfig(), auth.RandomCode)

	tokens, err := auth.NewTokenService("test-only-jwt-secret-please-change-32bytes-min", 2*time.Hour, "collar-auth")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	sender := newRecordingSender()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewAuthService(users, challenges, auth.NewPasswordServiceForTest(), tokens, sender, sandbox, logger)
	return &testEnv{svc: svc, users: users, challenges: challenges, sender: sender, tokens: tokens}
}

// subjectOf validates token and returns the user id it carries.
func (e *testEnv) subjectOf(t *testing.T, token string) int64 {
	t.Helper()
	claims, err := e.tokens.Validate(token)
	require.NoError(t, err)
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	require.NoError(t, err)
	return id
}

// wrongCodeFor returns a six-digit code guaranteed to differ from code.
func wrongCodeFor(code string) string {
	n, _ := strconv.Atoi(code)
	return fmt.Sprintf("%06d", (n+1)%1000000)
}

// =========================================================================
// SMS LOGIN TESTS
// =========================================================================

// The end-to-end SMS scenario: send, wrong code, right code, replay.
func TestLoginWithSMS_Scenario(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx := context.Background()
	const phone = "13800000001"

	sent, err := env.svc.SendSMSCode(ctx, phone)
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ChallengeID)
	assert.Equal(t, int64(300), sent.TTLSeconds)

	code := env.sender.last(phone)
	require.Len(t, code, auth.CodeDigits)

	_, err = env.svc.LoginWithSMS(ctx, sent.ChallengeID, phone, wrongCodeFor(code))
	require.ErrorIs(t, err, apperror.ErrChallengeCodeMismatch)

	res, err := env.svc.LoginWithSMS(ctx, sent.ChallengeID, phone, code)
	require.NoError(t, err)
	assert.Equal(t, phone, res.User.Phone)
	assert.GreaterOrEqual(t, res.User.ID, memory.FirstUserID)
	assert.False(t, res.User.HasPassword())
	assert.Equal(t, res.User.ID, env.subjectOf(t, res.Token))

	_, err = env.svc.LoginWithSMS(ctx, sent.ChallengeID, phone, code)
	assert.ErrorIs(t, err, apperror.ErrChallengeNotFound)
}

func TestLoginWithSMS_ExistingUserKeepsID(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx := context.Background()
	const phone = "13800000002"

	reg, err := env.svc.RegisterWithPassword(ctx, phone, "P@ssw0rd!")
	require.NoError(t, err)

	sent, err := env.svc.SendSMSCode(ctx, phone)
	require.NoError(t, err)

	res, err := env.svc.LoginWithSMS(ctx, sent.ChallengeID, phone, env.sender.last(phone))
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)
	assert.True(t, res.User.HasPassword())
}

func TestLoginWithSMS_WithoutChallengeID(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx := context.Background()
	const phone = "13800000003"

	_, err := env.svc.SendSMSCode(ctx, phone)
	require.NoError(t, err)

	res, err := env.svc.LoginWithSMS(ctx, "", phone, env.sender.last(phone))
	require.NoError(t, err)
	assert.Equal(t, phone, res.User.Phone)
}

func TestLoginWithSMS_LosesCreationRace(t *testing.T) {
	users := &racingUserRepo{UserStore: memory.NewUserStore()}
	env := newTestEnv(t, true, users)
	ctx := context.Background()
	const phone = "13800000004"

	sent, err := env.svc.SendSMSCode(ctx, phone)
	require.NoError(t, err)

	res, err := env.svc.LoginWithSMS(ctx, sent.ChallengeID, phone, env.sender.last(phone))
	require.NoError(t, err, "a lost creation race must not surface Conflict")
	assert.Equal(t, "winner-hash", res.User.PasswordHash)
	assert.Equal(t, 1, users.Len())
}

func TestLoginWithSMS_ConcurrentFirstLogins(t *testing.T) {
	const phone = "13800000005"
	env := newTestEnv(t, true, nil)
	ctx := context.Background()

	// The send throttle allows one challenge per phone per interval, so each
	// goroutine gets its own challenge store over the shared identity store.
	const n = 8
	services := make([]*AuthService, n)
	for i := range services {
		challenges := memory.NewChallengeStore(memory.DefaultChallengeConfig(), auth.FixedCode("000000"))
		services[i] = NewAuthService(env.users, challenges, auth.NewPasswordServiceForTest(), env.tokens, env.sender, true, env.svc.logger)
		_, err := services[i].SendSMSCode(ctx, phone)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	ids := make([]int64, n)
	for i := range services {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := services[i].LoginWithSMS(ctx, "", phone, "000000")
			if err != nil {
				t.Errorf("LoginWithSMS() error = %v", err)
				return
			}
			ids[i] = res.User.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i], "all logins must resolve to one identity")
	}
}

func TestLoginWithSMS_ChallengeErrorsPropagate(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx := context.Background()

	_, err := env.svc.LoginWithSMS(ctx, "missing", "13800000006", "123456")
	assert.ErrorIs(t, err, apperror.ErrChallengeNotFound)

	_, err = env.svc.LoginWithSMS(ctx, "", "13800000006", "123456")
	assert.ErrorIs(t, err, apperror.ErrChallengeNotFound)
}

// =========================================================================
// SEND TESTS
// =========================================================================

func TestSendSMSCode_Throttled(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx := context.Background()

	_, err := env.svc.SendSMSCode(ctx, "13800000007")
	require.NoError(t, err)

	_, err = env.svc.SendSMSCode(ctx, "13800000007")
	assert.ErrorIs(t, err, apperror.ErrRateLimited)
}

func TestSendSMSCode_SenderFailure(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.sender.err = errors.New("carrier down")

	_, err := env.svc.SendSMSCode(context.Background(), "13800000008")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier down")
}

// =========================================================================
// CHANNEL GATE TESTS
// =========================================================================

func TestSMSFlows_DisabledOutsideSandbox(t *testing.T) {
	env := newTestEnv(t, false, nil)
	ctx := context.Background()
	const phone = "13800000009"

	assert.False(t, env.svc.SMSEnabled())

	_, err := env.svc.SendSMSCode(ctx, phone)
	assert.ErrorIs(t, err, apperror.ErrChannelUnavailable)

	_, err = env.svc.LoginWithSMS(ctx, "", phone, "000000")
	assert.ErrorIs(t, err, apperror.ErrChannelUnavailable)

	_, err = env.svc.RegisterWithSMS(ctx, phone, "000000", "P@ssw0rd!")
	assert.ErrorIs(t, err, apperror.ErrChannelUnavailable)

	err = env.svc.SetPassword(ctx, phone, "P@ssw0rd!")
	assert.ErrorIs(t, err, apperror.ErrChannelUnavailable)

	// The gate runs before the store: nothing was issued or created.
	assert.Equal(t, 0, env.challenges.Pending())
	assert.Empty(t, env.sender.last(phone))
	_, err = env.users.FindByPhone(ctx, phone)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

// =========================================================================
// PASSWORD FLOW TESTS
// =========================================================================

// The duplicate registration scenario.
func TestRegisterWithPassword_Duplicate(t *testing.T) {
	env := newTestEnv(t, false, nil)
	ctx := context.Background()

	res, err := env.svc.RegisterWithPassword(ctx, "13800000011", "P@ssw0rd!")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, res.User.ID, env.subjectOf(t, res.Token))

	_, err = env.svc.RegisterWithPassword(ctx, "13800000011", "P@ssw0rd!")
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestRegisterWithPassword_TooLong(t *testing.T) {
	env := newTestEnv(t, false, nil)

	long := make([]byte, 73)
	for i := range long {
		long[i] = 'a'
	}
	_, err := env.svc.RegisterWithPassword(context.Background(), "13800000012", string(long))
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestLoginWithPassword(t *testing.T) {
	env := newTestEnv(t, false, nil)
	ctx := context.Background()

	reg, err := env.svc.RegisterWithPassword(ctx, "13800000013", "P@ssw0rd!")
	require.NoError(t, err)

	tests := []struct {
		name     string
		phone    string
		password string
		wantErr  error
	}{
		{"right password", "13800000013", "P@ssw0rd!", nil},
		{"wrong password", "13800000013", "nope", apperror.ErrUnauthorized},
		{"unknown phone", "13800000014", "P@ssw0rd!", apperror.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.svc.LoginWithPassword(ctx, tt.phone, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, reg.User.ID, res.User.ID)
		})
	}
}

func TestLoginWithPassword_SMSOnlyIdentity(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx := context.Background()
	const phone = "13800000015"

	_, err := env.svc.SendSMSCode(ctx, phone)
	require.NoError(t, err)
	_, err = env.svc.LoginWithSMS(ctx, "", phone, env.sender.last(phone))
	require.NoError(t, err)

	_, err = env.svc.LoginWithPassword(ctx, phone, "")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestRegisterWithSMS(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx := context.Background()
	const phone = "13800000016"

	_, err := env.svc.SendSMSCode(ctx, phone)
	require.NoError(t, err)

	res, err := env.svc.RegisterWithSMS(ctx, phone, env.sender.last(phone), "P@ssw0rd!")
	require.NoError(t, err)
	assert.True(t, res.User.HasPassword())

	_, err = env.svc.LoginWithPassword(ctx, phone, "P@ssw0rd!")
	assert.NoError(t, err)
}

func TestRegisterWithSMS_AlreadyRegistered(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx := context.Background()
	const phone = "13800000017"

	_, err := env.svc.RegisterWithPassword(ctx, phone, "first")
	require.NoError(t, err)
	_, err = env.svc.SendSMSCode(ctx, phone)
	require.NoError(t, err)

	_, err = env.svc.RegisterWithSMS(ctx, phone, env.sender.last(phone), "second")
	assert.ErrorIs(t, err, apperror.ErrConflict)

	// The original password still works.
	_, err = env.svc.LoginWithPassword(ctx, phone, "first")
	assert.NoError(t, err)
}

func TestRegisterWithSMS_WrongCode(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx := context.Background()
	const phone = "13800000018"

	_, err := env.svc.SendSMSCode(ctx, phone)
	require.NoError(t, err)

	_, err = env.svc.RegisterWithSMS(ctx, phone, wrongCodeFor(env.sender.last(phone)), "P@ssw0rd!")
	assert.ErrorIs(t, err, apperror.ErrChallengeCodeMismatch)

	_, err = env.users.FindByPhone(ctx, phone)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

// =========================================================================
// CHANGE / SET PASSWORD TESTS
// =========================================================================

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, false, nil)
	ctx := context.Background()

	reg, err := env.svc.RegisterWithPassword(ctx, "13800000019", "old-pass")
	require.NoError(t, err)

	err = env.svc.ChangePassword(ctx, reg.User.ID, "wrong", "new-pass")
	require.ErrorIs(t, err, apperror.ErrUnauthorized)

	require.NoError(t, env.svc.ChangePassword(ctx, reg.User.ID, "old-pass", "new-pass"))

	_, err = env.svc.LoginWithPassword(ctx, "13800000019", "old-pass")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	_, err = env.svc.LoginWithPassword(ctx, "13800000019", "new-pass")
	assert.NoError(t, err)
}

func TestChangePassword_UnknownUser(t *testing.T) {
	env := newTestEnv(t, false, nil)

	err := env.svc.ChangePassword(context.Background(), 99999, "a", "b")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestSetPassword(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ctx := context.Background()

	// Creates the identity on first use.
	require.NoError(t, env.svc.SetPassword(ctx, "13800000020", "first"))
	res, err := env.svc.LoginWithPassword(ctx, "13800000020", "first")
	require.NoError(t, err)

	// Overwrites without asking for the old one.
	require.NoError(t, env.svc.SetPassword(ctx, "13800000020", "second"))
	again, err := env.svc.LoginWithPassword(ctx, "13800000020", "second")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, again.User.ID)
}

// =========================================================================
// STORAGE FAILURE TESTS
// =========================================================================

func TestStorageFailuresAreWrapped(t *testing.T) {
	env := newTestEnv(t, true, brokenUserRepo{})
	ctx := context.Background()

	_, err := env.svc.LoginWithPassword(ctx, "13800000021", "x")
	assert.ErrorIs(t, err, errStorage)

	_, err = env.svc.RegisterWithPassword(ctx, "13800000021", "x")
	assert.ErrorIs(t, err, errStorage)

	err = env.svc.ChangePassword(ctx, 1000, "x", "y")
	assert.ErrorIs(t, err, errStorage)

	err = env.svc.SetPassword(ctx, "13800000021", "x")
	assert.ErrorIs(t, err, errStorage)
}
