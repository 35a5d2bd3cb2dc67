package memory

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/time/rate"

	"github.com/sakif/collar-auth/internal/apperror"
	"github.com/sakif/collar-auth/internal/auth"
	"github.com/sakif/collar-auth/internal/model"
	"github.com/sakif/collar-auth/internal/repository"
)

// compile-time check that *ChallengeStore implements repository.ChallengeRepository
var _ repository.ChallengeRepository = (*ChallengeStore)(nil)

// ChallengeConfig controls the challenge lifecycle.
type ChallengeConfig struct {
	TTL          time.Duration // how long a code stays valid
	SendInterval time.Duration // minimum gap between two sends to one phone
	MaxAttempts  int           // verification attempts allowed per challenge
}

// DefaultChallengeConfig returns the production defaults: 5 minute codes,
// one send per phone per minute, five attempts.
func DefaultChallengeConfig() ChallengeConfig {
	return ChallengeConfig{
		TTL:          5 * time.Minute,
		SendInterval: 60 * time.Second,
		MaxAttempts:  5,
	}
}

// ChallengeStore issues and verifies single-use SMS codes.
//
// A phone has at most one live challenge; sending again replaces it. The
// challenge table, the phone index and the per-phone send limiters are all
// guarded by mu, and Verify holds it from lookup to removal, so attempts
// are counted exactly and a code can be redeemed only once.
//
// SEND THROTTLE:
// Each phone gets a rate.Limiter with burst 1 refilling once per
// SendInterval. The limiter is consulted and charged inside the same
// critical section that records the challenge, so at most one send per
// phone succeeds in any SendInterval window, however many race.
type ChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*model.Challenge
	latest     map[string]string // phone → live challenge id
	throttle   map[string]*rate.Limiter

	cfg   ChallengeConfig
	codes auth.CodeGenerator
	now   func() time.Time
}

// NewChallengeStore returns an empty store. Zero fields in cfg fall back to
// DefaultChallengeConfig; a nil codes generator means auth.RandomCode.
func NewChallengeStore(cfg ChallengeConfig, codes auth.CodeGenerator) *ChallengeStore {
	def := DefaultChallengeConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = def.SendInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if codes == nil {
		codes = auth.RandomCode
	}

	return &ChallengeStore{
		challenges: make(map[string]*model.Challenge),
		latest:     make(map[string]string),
		throttle:   make(map[string]*rate.Limiter),
		cfg:        cfg,
		codes:      codes,
		now:        time.Now,
	}
}

// Config returns the effective lifecycle settings.
func (s *ChallengeStore) Config() ChallengeConfig {
	return s.cfg
}

// Send issues a new challenge for phone.
func (s *ChallengeStore) Send(_ context.Context, phone string) (model.SendResult, error) {
	code, err := s.codes()
	if err != nil {
		return model.SendResult{}, fmt.Errorf("memory: generating code: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.limiterFor(phone).AllowN(now, 1) {
		return model.SendResult{}, apperror.RateLimited(
			fmt.Sprintf("a code was sent to this phone less than %s ago", s.cfg.SendInterval))
	}

	if prev, ok := s.latest[phone]; ok {
		delete(s.challenges, prev)
	}

	c := &model.Challenge{
		ID:        xid.New().String(),
		Phone:     phone,
		Code:      code,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	s.challenges[c.ID] = c
	s.latest[phone] = c.ID

	return model.SendResult{ChallengeID: c.ID, Code: code, TTL: s.cfg.TTL}, nil
}

// Verify checks code against challengeID for phone.
//
// Order of checks: unknown id or phone mismatch → ErrChallengeNotFound;
// past expiry → ErrChallengeExpired (removed); attempt budget exhausted →
// ErrTooManyAttempts (removed); wrong code → ErrChallengeCodeMismatch (one
// attempt spent); right code → nil (removed).
func (s *ChallengeStore) Verify(_ context.Context, challengeID, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.verifyLocked(challengeID, phone, code, s.now())
}

// VerifyLatest verifies against the live challenge of phone.
func (s *ChallengeStore) VerifyLatest(_ context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.latest[phone]
	if !ok {
		return apperror.ChallengeNotFound()
	}
	return s.verifyLocked(id, phone, code, s.now())
}

func (s *ChallengeStore) verifyLocked(challengeID, phone, code string, now time.Time) error {
	c, ok := s.challenges[challengeID]
	if !ok || c.Phone != phone {
		return apperror.ChallengeNotFound()
	}

	if c.Expired(now) {
		s.removeLocked(c)
		return apperror.ChallengeExpired()
	}

	c.Attempts++
	if c.Attempts > s.cfg.MaxAttempts {
		s.removeLocked(c)
		return apperror.TooManyAttempts()
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(c.Code)) != 1 {
		return apperror.ChallengeCodeMismatch()
	}

	s.removeLocked(c)
	return nil
}

func (s *ChallengeStore) removeLocked(c *model.Challenge) {
	delete(s.challenges, c.ID)
	if s.latest[c.Phone] == c.ID {
		delete(s.latest, c.Phone)
	}
}

// limiterFor returns the send limiter of phone, creating it on first use.
// Callers must hold mu.
func (s *ChallengeStore) limiterFor(phone string) *rate.Limiter {
	lim, ok := s.throttle[phone]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.cfg.SendInterval), 1)
		s.throttle[phone] = lim
	}
	return lim
}

// Sweep drops expired challenges and send limiters that have fully
// refilled, i.e. phones that could send again anyway. It returns how many
// challenges were removed.
func (s *ChallengeStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, c := range s.challenges {
		if c.Expired(now) {
			s.removeLocked(c)
			removed++
		}
	}
	for phone, lim := range s.throttle {
		if lim.TokensAt(now) >= 1 {
			delete(s.throttle, phone)
		}
	}
	return removed
}

// Pending reports how many challenges are live.
func (s *ChallengeStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}
