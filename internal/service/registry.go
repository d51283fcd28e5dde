package service

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sthaha/emseepee/internal/domain"
	"github.com/sthaha/emseepee/internal/fetch"
	"github.com/sthaha/emseepee/internal/store"
	"github.com/sthaha/emseepee/internal/token"
)

const credentialFileName = "credentials.json"

// RegistryOptions configures account discovery and session construction.
type RegistryOptions struct {
	Root         string        // Directory with one subdirectory per account
	Current      string        // Account to select at startup (optional)
	ExpiryMargin time.Duration // Token expiry margin for every account
	ChunkSize    int           // Batch fetch chunk size for every account
}

// Registry owns the set of known accounts and their sessions. Sessions are
// created lazily on first use and reused afterwards; the registry is the only
// component that knows where accounts live on disk.
type Registry struct {
	opts      RegistryOptions
	api       domain.MailAPI
	refresher token.Refresher
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	current  string
}

// NewRegistry creates a registry over the accounts root directory. The
// directory is created if missing so a first run starts clean.
func NewRegistry(opts RegistryOptions, api domain.MailAPI, refresher token.Refresher, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Root == "" {
		return nil, fmt.Errorf("accounts root is required")
	}
	if err := os.MkdirAll(opts.Root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create accounts root: %w", err)
	}

	r := &Registry{
		opts:      opts,
		api:       api,
		refresher: refresher,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}

	if opts.Current != "" && r.exists(opts.Current) {
		r.current = opts.Current
	}
	return r, nil
}

// IDs returns every known account identifier, sorted.
func (r *Registry) IDs() ([]string, error) {
	entries, err := os.ReadDir(r.opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts root: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Discover scans the accounts root and summarizes every account found. It is
// tolerant: a broken account yields a summary with a reason instead of
// failing the scan, and no remote calls are made. Summaries never expose
// file system paths.
func (r *Registry) Discover() ([]domain.AccountSummary, error) {
	ids, err := r.IDs()
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.AccountSummary, 0, len(ids))
	for _, id := range ids {
		summaries = append(summaries, r.summarize(id))
	}

	r.logger.Info("discovered accounts", "count", len(summaries))
	return summaries, nil
}

func (r *Registry) summarize(id string) domain.AccountSummary {
	s := domain.AccountSummary{ID: id}

	info, err := os.Stat(r.credentialPath(id))
	switch {
	case err == nil && info.IsDir():
		s.Status = domain.AccountError
		s.Reason = "credential file is a directory"
	case err == nil:
		s.Status = domain.AccountLoaded
	case os.IsNotExist(err):
		s.Status = domain.AccountNoCredential
		s.Reason = "no credential file"
	default:
		s.Status = domain.AccountError
		s.Reason = "credential file unreadable"
	}

	s.HasCache = r.hasCacheFile(id)
	s.Email = r.cachedEmail(id)
	return s
}

// cachedEmail reads the account's email address from its metadata cache
// without any remote call. An open session is consulted first; otherwise the
// cache is peeked only if it already exists on disk, so discovery never
// creates cache files.
func (r *Registry) cachedEmail(id string) string {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()

	if ok {
		if p, found := sess.cache.Profile(); found {
			return p.EmailAddress
		}
		return ""
	}

	if !r.hasCacheFile(id) {
		return ""
	}

	c := store.Open(r.cacheDir(id), r.logger)
	defer c.Close()
	if p, found := c.Profile(); found {
		return p.EmailAddress
	}
	return ""
}

// GetOrCreate returns the session for an account, building it on first use.
func (r *Registry) GetOrCreate(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(id)
}

func (r *Registry) getOrCreateLocked(id string) (*Session, error) {
	if sess, ok := r.sessions[id]; ok {
		return sess, nil
	}
	if !r.exists(id) {
		return nil, fmt.Errorf("account %q: %w", id, domain.ErrAccountNotFound)
	}

	tok := token.NewStore(r.credentialPath(id), r.refresher, r.opts.ExpiryMargin, r.logger.With("account", id))
	cache := store.Open(r.cacheDir(id), r.logger.With("account", id))
	fetcher := fetch.NewFetcher(r.api, r.opts.ChunkSize, r.logger.With("account", id))

	sess := NewSession(id, tok, cache, fetcher, r.api, r.logger)
	r.sessions[id] = sess
	r.logger.Debug("session created", "account", id)
	return sess, nil
}

// Add registers a new empty account directory. The caller drops a credential
// file into it afterwards.
func (r *Registry) Add(id string) error {
	if err := validateAccountID(id); err != nil {
		return err
	}
	if r.exists(id) {
		return fmt.Errorf("account %q: %w", id, domain.ErrAccountExists)
	}
	if err := os.MkdirAll(filepath.Join(r.opts.Root, id), 0700); err != nil {
		return fmt.Errorf("failed to create account directory: %w", err)
	}
	r.logger.Info("account added", "account", id)
	return nil
}

// Switch makes the named account current.
func (r *Registry) Switch(id string) error {
	if !r.exists(id) {
		return fmt.Errorf("account %q: %w", id, domain.ErrAccountNotFound)
	}

	r.mu.Lock()
	r.current = id
	r.mu.Unlock()

	r.logger.Info("switched account", "account", id)
	return nil
}

// Current returns the current account identifier, or ErrAccountNotFound when
// none is selected.
func (r *Registry) Current() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == "" {
		return "", fmt.Errorf("no current account: %w", domain.ErrAccountNotFound)
	}
	return r.current, nil
}

// CurrentSession returns the session for the current account.
func (r *Registry) CurrentSession() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == "" {
		return nil, fmt.Errorf("no current account: %w", domain.ErrAccountNotFound)
	}
	return r.getOrCreateLocked(r.current)
}

// Rename changes an account's identifier by renaming its directory. Any open
// session is closed first so file handles move cleanly.
func (r *Registry) Rename(oldID, newID string) error {
	if err := validateAccountID(newID); err != nil {
		return err
	}
	if !r.exists(oldID) {
		return fmt.Errorf("account %q: %w", oldID, domain.ErrAccountNotFound)
	}
	if r.exists(newID) {
		return fmt.Errorf("account %q: %w", newID, domain.ErrAccountExists)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[oldID]; ok {
		if err := sess.Close(); err != nil {
			r.logger.Warn("failed to close session before rename", "account", oldID, "error", err)
		}
		delete(r.sessions, oldID)
	}

	oldPath := filepath.Join(r.opts.Root, oldID)
	newPath := filepath.Join(r.opts.Root, newID)
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("failed to rename account: %w", err)
	}

	if r.current == oldID {
		r.current = newID
	}

	r.logger.Info("account renamed", "from", oldID, "to", newID)
	return nil
}

// InvalidateCache clears one account's metadata cache.
func (r *Registry) InvalidateCache(id string) error {
	sess, err := r.GetOrCreate(id)
	if err != nil {
		return err
	}
	return sess.InvalidateCache()
}

// InvalidateAllCaches clears the metadata cache of every known account.
// Accounts that cannot be opened are skipped with a warning; one broken
// account never blocks clearing the rest.
func (r *Registry) InvalidateAllCaches() error {
	ids, err := r.IDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.InvalidateCache(id); err != nil {
			r.logger.Warn("failed to invalidate cache", "account", id, "error", err)
		}
	}
	return nil
}

// CacheStatus reports one account's metadata cache state.
func (r *Registry) CacheStatus(id string) (domain.CacheStatus, error) {
	sess, err := r.GetOrCreate(id)
	if err != nil {
		return domain.CacheStatus{}, err
	}
	return sess.CacheStatus(), nil
}

// Select resolves a selector to concrete account identifiers. Unknown
// identifiers in an explicit set are skipped and reported as warnings rather
// than failing the whole selection.
func (r *Registry) Select(sel domain.Selector) (ids []string, warnings []string, err error) {
	switch sel.Kind() {
	case domain.SelectCurrent:
		id, err := r.Current()
		if err != nil {
			return nil, nil, err
		}
		return []string{id}, nil, nil

	case domain.SelectAll:
		ids, err := r.IDs()
		if err != nil {
			return nil, nil, err
		}
		return ids, nil, nil

	default:
		for _, id := range sel.IDs() {
			if !r.exists(id) {
				warnings = append(warnings, fmt.Sprintf("unknown account: %s", id))
				continue
			}
			ids = append(ids, id)
		}
		return ids, warnings, nil
	}
}

// Close shuts down every open session.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, sess := range r.sessions {
		if err := sess.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.sessions, id)
	}
	return firstErr
}

func (r *Registry) exists(id string) bool {
	if validateAccountID(id) != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(r.opts.Root, id))
	return err == nil && info.IsDir()
}

func (r *Registry) credentialPath(id string) string {
	return filepath.Join(r.opts.Root, id, credentialFileName)
}

func (r *Registry) cacheDir(id string) string {
	return filepath.Join(r.opts.Root, id, "cache")
}

func (r *Registry) hasCacheFile(id string) bool {
	_, err := os.Stat(filepath.Join(r.cacheDir(id), "metadata.db"))
	return err == nil
}

// validateAccountID rejects identifiers that would escape the accounts root
// or collide with hidden files.
func validateAccountID(id string) error {
	if id == "" {
		return fmt.Errorf("account id must not be empty")
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid account id %q", id)
	}
	return nil
}
