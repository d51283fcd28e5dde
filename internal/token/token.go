package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sthaha/emseepee/internal/domain"
)

// State is the account's authentication state.
type State int

const (
	StateUnauthenticated State = iota
	StateValid
	StateRefreshing
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateRefreshing:
		return "refreshing"
	case StateInvalid:
		return "invalid"
	default:
		return "unauthenticated"
	}
}

// Refresher exchanges a refresh token for a new credential at the remote
// authorization endpoint.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.Credential, error)
}

// Store owns one account's credential material and refresh lifecycle. At most
// one refresh is in flight at a time; a caller that was blocked behind a
// refresh re-checks expiry and reuses the fresh credential instead of
// refreshing again.
type Store struct {
	path      string
	refresher Refresher
	margin    time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	cred   domain.Credential
	loaded bool
	state  State
	reason string
}

// NewStore creates a token store for the credential file at path. The margin
// controls how close to expiry a token is still considered usable.
func NewStore(path string, refresher Refresher, margin time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:      path,
		refresher: refresher,
		margin:    margin,
		logger:    logger,
		now:       time.Now,
	}
}

// Token returns a valid credential, refreshing it first if the stored access
// token is expired or inside the expiry margin. It fails with
// domain.ErrNoCredential when no credential file exists and with a
// domain.ErrAuthFailed wrap when the refresh token is missing or rejected.
func (s *Store) Token(ctx context.Context) (domain.Credential, error) {
	// Fast path: current credential is still valid
	s.mu.RLock()
	if s.loaded && s.cred.Valid(s.now(), s.margin) {
		cred := s.cred
		s.mu.RUnlock()
		return cred, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.loadLocked(); err != nil {
			return domain.Credential{}, err
		}
	}

	// Re-check: another caller may have refreshed while we waited
	if s.cred.Valid(s.now(), s.margin) {
		return s.cred, nil
	}

	return s.refreshLocked(ctx)
}

// ForceRefresh performs a refresh even when the stored access token is still
// valid, persisting the new credential before returning it.
func (s *Store) ForceRefresh(ctx context.Context) (domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.loadLocked(); err != nil {
			return domain.Credential{}, err
		}
	}

	return s.refreshLocked(ctx)
}

// refreshLocked exchanges the refresh token for a new credential and persists
// it. Callers hold the write lock.
func (s *Store) refreshLocked(ctx context.Context) (domain.Credential, error) {
	if s.cred.RefreshToken == "" {
		s.state = StateInvalid
		s.reason = "no refresh token"
		return domain.Credential{}, fmt.Errorf("account has no refresh token: %w", domain.ErrAuthFailed)
	}

	s.state = StateRefreshing
	s.logger.Debug("refreshing credential")

	fresh, err := s.refresher.Refresh(ctx, s.cred.RefreshToken)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Cancellation is not an auth verdict; the stored credential is
			// untouched and the next caller simply retries
			s.state = StateUnauthenticated
			return domain.Credential{}, err
		}
		s.state = StateInvalid
		s.reason = err.Error()
		s.logger.Error("credential refresh failed", "error", err)
		if errors.Is(err, domain.ErrServerUnreachable) {
			return domain.Credential{}, err
		}
		return domain.Credential{}, fmt.Errorf("refresh rejected: %w", domain.ErrAuthFailed)
	}

	// Some authorization servers rotate the refresh token, some do not
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = s.cred.RefreshToken
	}

	// Persist before handing the credential to anyone
	if err := s.persistLocked(fresh); err != nil {
		s.state = StateInvalid
		s.reason = err.Error()
		return domain.Credential{}, fmt.Errorf("failed to persist credential: %w", err)
	}

	s.cred = fresh
	s.state = StateValid
	s.reason = ""
	s.logger.Info("credential refreshed", "expiry", fresh.Expiry)

	return s.cred, nil
}

// State returns the current authentication state and, for StateInvalid, the
// failure reason.
func (s *Store) State() (State, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.reason
}

// HasCredential reports whether a credential file exists on disk.
func (s *Store) HasCredential() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// loadLocked reads the credential file. Unknown JSON fields are ignored so
// files written by newer versions stay readable.
func (s *Store) loadLocked() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.state = StateUnauthenticated
			return domain.ErrNoCredential
		}
		return fmt.Errorf("failed to read credential file: %w", err)
	}

	var cred domain.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		s.state = StateInvalid
		s.reason = "corrupt credential file"
		return fmt.Errorf("corrupt credential file: %w", domain.ErrAuthFailed)
	}

	s.cred = cred
	s.loaded = true
	if cred.Valid(s.now(), s.margin) {
		s.state = StateValid
	}
	return nil
}

// persistLocked writes the credential with an atomic replace so a reader
// never observes a half-written file.
func (s *Store) persistLocked(cred domain.Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
