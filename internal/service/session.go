package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sthaha/emseepee/internal/domain"
	"github.com/sthaha/emseepee/internal/fetch"
	"github.com/sthaha/emseepee/internal/token"
)

const (
	labelInbox  = "INBOX"
	labelUnread = "UNREAD"

	// Unread listings are the hottest call and tolerate slight staleness
	unreadCacheTTL = 60 * time.Second
)

// Session is the live handle for one account: its token store, metadata
// cache, batch fetcher, and remote API client. Every remote operation goes
// through the token gate first, so a session with a broken credential fails
// fast without touching the network.
type Session struct {
	ID string

	token   *token.Store
	cache   domain.MetadataStore
	fetcher *fetch.Fetcher
	api     domain.MailAPI
	logger  *slog.Logger
	now     func() time.Time

	// Short-lived unread cache
	unreadMu   sync.Mutex
	unreadMsgs []domain.Message
	unreadMax  int
	unreadAt   time.Time
}

// NewSession assembles a session from its per-account collaborators.
func NewSession(id string, tok *token.Store, cache domain.MetadataStore, fetcher *fetch.Fetcher, api domain.MailAPI, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:      id,
		token:   tok,
		cache:   cache,
		fetcher: fetcher,
		api:     api,
		logger:  logger.With("account", id),
		now:     time.Now,
	}
}

// TokenState reports the session's authentication state.
func (s *Session) TokenState() (token.State, string) {
	return s.token.State()
}

// RefreshToken forces a credential refresh regardless of the current token's
// expiry and reports the resulting state.
func (s *Session) RefreshToken(ctx context.Context) (token.State, error) {
	_, err := s.token.ForceRefresh(ctx)
	state, _ := s.token.State()
	if err != nil {
		return state, err
	}
	s.logger.Info("credential refresh forced")
	return state, nil
}

// Close releases the session's cache resources.
func (s *Session) Close() error {
	return s.cache.Close()
}

// === Listing ===

// Unread returns up to max unread messages, newest first. Results are served
// from a short-lived memory cache; any mutation on this session invalidates
// it.
func (s *Session) Unread(ctx context.Context, max int) ([]domain.Message, error) {
	if max <= 0 {
		max = 10
	}

	// 1. Check memory cache
	s.unreadMu.Lock()
	if s.unreadMsgs != nil && s.unreadMax == max && s.now().Sub(s.unreadAt) < unreadCacheTTL {
		msgs := s.unreadMsgs
		s.unreadMu.Unlock()
		s.logger.Debug("unread cache hit", "count", len(msgs))
		return msgs, nil
	}
	s.unreadMu.Unlock()

	// 2. Fetch from the remote API
	msgs, err := s.Search(ctx, "is:unread", max)
	if err != nil {
		return nil, err
	}

	// 3. Populate memory cache
	s.unreadMu.Lock()
	s.unreadMsgs = msgs
	s.unreadMax = max
	s.unreadAt = s.now()
	s.unreadMu.Unlock()

	return msgs, nil
}

// Search lists message identifiers matching the query, resolves them in
// batches, and returns the full messages in the order the server listed them.
// Individual fetch failures are logged and skipped rather than failing the
// whole search.
func (s *Session) Search(ctx context.Context, query string, max int) ([]domain.Message, error) {
	cred, err := s.token.Token(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := s.api.ListMessageIDs(ctx, cred, query, max)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Message{}, nil
	}

	outcome := s.fetcher.FetchMany(ctx, cred, ids)

	msgs := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		r := outcome[id]
		if r.Err != nil {
			s.logger.Warn("skipping message", "id", id, "error", r.Err)
			continue
		}
		msgs = append(msgs, *r.Message)
	}

	if err := s.enrichLabels(ctx, cred, msgs); err != nil {
		s.logger.Warn("label enrichment incomplete", "error", err)
	}

	s.logger.Debug("search complete", "query", query, "listed", len(ids), "fetched", len(msgs))
	return msgs, nil
}

// Archived returns up to max messages that are no longer in the inbox.
func (s *Session) Archived(ctx context.Context, max int) ([]domain.Message, error) {
	return s.Search(ctx, "-in:inbox", max)
}

// SearchByLabel lists messages carrying the given label. The name is resolved
// fuzzily, so approximate spellings work.
func (s *Session) SearchByLabel(ctx context.Context, name string, max int) ([]domain.Message, error) {
	label, err := s.ResolveLabel(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, fmt.Sprintf("label:%s", label.Name), max)
}

// Read returns one full message with its labels resolved to names.
func (s *Session) Read(ctx context.Context, id string) (*domain.Message, error) {
	cred, err := s.token.Token(ctx)
	if err != nil {
		return nil, err
	}

	msg, err := s.api.GetMessage(ctx, cred, id)
	if err != nil {
		return nil, err
	}

	msgs := []domain.Message{*msg}
	if err := s.enrichLabels(ctx, cred, msgs); err != nil {
		s.logger.Warn("label enrichment incomplete", "error", err)
	}
	return &msgs[0], nil
}

// === Sending ===

// Send sends a message and returns its identifier.
func (s *Session) Send(ctx context.Context, to, subject, body string) (string, error) {
	cred, err := s.token.Token(ctx)
	if err != nil {
		return "", err
	}

	id, err := s.api.SendMessage(ctx, cred, to, subject, body)
	if err != nil {
		return "", err
	}

	s.logger.Info("message sent", "id", id, "to", to)
	return id, nil
}

// CreateDraft creates an unsent draft.
func (s *Session) CreateDraft(ctx context.Context, to, subject, body string) (*domain.Draft, error) {
	cred, err := s.token.Token(ctx)
	if err != nil {
		return nil, err
	}
	return s.api.CreateDraft(ctx, cred, to, subject, body)
}

// Drafts lists all drafts.
func (s *Session) Drafts(ctx context.Context) ([]domain.Draft, error) {
	cred, err := s.token.Token(ctx)
	if err != nil {
		return nil, err
	}
	return s.api.ListDrafts(ctx, cred)
}

// === Message state ===

// MarkRead clears the unread flag on a message.
func (s *Session) MarkRead(ctx context.Context, id string) error {
	return s.modify(ctx, id, nil, []string{labelUnread})
}

// Archive removes a message from the inbox without deleting it.
func (s *Session) Archive(ctx context.Context, id string) error {
	return s.modify(ctx, id, nil, []string{labelInbox})
}

// RestoreToInbox puts an archived message back in the inbox.
func (s *Session) RestoreToInbox(ctx context.Context, id string) error {
	return s.modify(ctx, id, []string{labelInbox}, nil)
}

// Trash moves a message to the trash.
func (s *Session) Trash(ctx context.Context, id string) error {
	cred, err := s.token.Token(ctx)
	if err != nil {
		return err
	}
	if err := s.api.TrashMessage(ctx, cred, id); err != nil {
		return err
	}
	s.invalidateUnread()
	s.logger.Info("message trashed", "id", id)
	return nil
}

// MoveToFolder applies the named label and removes the message from the
// inbox, which is what "moving" means in a label-based mailbox.
func (s *Session) MoveToFolder(ctx context.Context, id, folder string) error {
	label, err := s.ResolveLabel(ctx, folder)
	if err != nil {
		return err
	}
	return s.modify(ctx, id, []string{label.ID}, []string{labelInbox})
}

// ApplyLabel adds the named label to a message.
func (s *Session) ApplyLabel(ctx context.Context, id, name string) error {
	label, err := s.ResolveLabel(ctx, name)
	if err != nil {
		return err
	}
	return s.modify(ctx, id, []string{label.ID}, nil)
}

// RemoveLabel removes the named label from a message.
func (s *Session) RemoveLabel(ctx context.Context, id, name string) error {
	label, err := s.ResolveLabel(ctx, name)
	if err != nil {
		return err
	}
	return s.modify(ctx, id, nil, []string{label.ID})
}

// BatchArchive archives every message matching the query and returns how many
// were archived. Per-message failures are logged and counted separately so one
// bad message does not abort the sweep.
func (s *Session) BatchArchive(ctx context.Context, query string, max int) (archived int, failed int, err error) {
	cred, err := s.token.Token(ctx)
	if err != nil {
		return 0, 0, err
	}

	ids, err := s.api.ListMessageIDs(ctx, cred, query, max)
	if err != nil {
		return 0, 0, err
	}

	for _, id := range ids {
		if err := s.api.ModifyLabels(ctx, cred, id, nil, []string{labelInbox}); err != nil {
			s.logger.Warn("failed to archive", "id", id, "error", err)
			failed++
			continue
		}
		archived++
	}

	s.invalidateUnread()
	s.logger.Info("batch archive complete", "query", query, "archived", archived, "failed", failed)
	return archived, failed, nil
}

func (s *Session) modify(ctx context.Context, id string, add, remove []string) error {
	cred, err := s.token.Token(ctx)
	if err != nil {
		return err
	}
	if err := s.api.ModifyLabels(ctx, cred, id, add, remove); err != nil {
		return err
	}
	s.invalidateUnread()
	return nil
}

func (s *Session) invalidateUnread() {
	s.unreadMu.Lock()
	s.unreadMsgs = nil
	s.unreadMu.Unlock()
}

// === Labels ===

// Labels lists the mailbox's labels and refreshes the cached id-to-name
// mapping as a side effect.
func (s *Session) Labels(ctx context.Context) ([]domain.Label, error) {
	cred, err := s.token.Token(ctx)
	if err != nil {
		return nil, err
	}
	return s.fetchLabels(ctx, cred)
}

// FindLabels ranks the mailbox's labels against a fuzzy query.
func (s *Session) FindLabels(ctx context.Context, query string) ([]LabelMatch, error) {
	labels, err := s.Labels(ctx)
	if err != nil {
		return nil, err
	}
	return matchLabels(labels, query), nil
}

// ResolveLabel maps a human-typed name to a label, exact match first then
// fuzzy.
func (s *Session) ResolveLabel(ctx context.Context, name string) (domain.Label, error) {
	labels, err := s.Labels(ctx)
	if err != nil {
		return domain.Label{}, err
	}
	return resolveLabel(labels, name)
}

// CreateLabel creates a user label.
func (s *Session) CreateLabel(ctx context.Context, name string) (*domain.Label, error) {
	cred, err := s.token.Token(ctx)
	if err != nil {
		return nil, err
	}

	label, err := s.api.CreateLabel(ctx, cred, name)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SaveLabels(map[string]string{label.ID: label.Name}); err != nil {
		s.logger.Warn("failed to cache new label", "error", err)
	}
	s.logger.Info("label created", "id", label.ID, "name", label.Name)
	return label, nil
}

// RenameLabel renames the label the given name resolves to.
func (s *Session) RenameLabel(ctx context.Context, name, newName string) (*domain.Label, error) {
	label, err := s.ResolveLabel(ctx, name)
	if err != nil {
		return nil, err
	}

	cred, err := s.token.Token(ctx)
	if err != nil {
		return nil, err
	}

	updated, err := s.api.UpdateLabel(ctx, cred, label.ID, newName)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SaveLabels(map[string]string{updated.ID: updated.Name}); err != nil {
		s.logger.Warn("failed to cache renamed label", "error", err)
	}
	return updated, nil
}

// DeleteLabel deletes the label the given name resolves to.
func (s *Session) DeleteLabel(ctx context.Context, name string) error {
	label, err := s.ResolveLabel(ctx, name)
	if err != nil {
		return err
	}

	cred, err := s.token.Token(ctx)
	if err != nil {
		return err
	}

	if err := s.api.DeleteLabel(ctx, cred, label.ID); err != nil {
		return err
	}

	if err := s.cache.InvalidateLabel(label.ID); err != nil {
		s.logger.Warn("failed to evict deleted label", "error", err)
	}
	s.logger.Info("label deleted", "id", label.ID, "name", label.Name)
	return nil
}

// === Profile ===

// Profile returns the account holder's profile, from the metadata cache when
// available. Set refresh to bypass the cache.
func (s *Session) Profile(ctx context.Context, refresh bool) (*domain.Profile, error) {
	// 1. Check metadata cache
	if !refresh {
		if p, ok := s.cache.Profile(); ok {
			return p, nil
		}
	}

	// 2. Fetch from the remote API
	cred, err := s.token.Token(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.api.GetProfile(ctx, cred)
	if err != nil {
		return nil, err
	}

	// 3. Populate cache
	if err := s.cache.SaveProfile(p); err != nil {
		s.logger.Warn("failed to cache profile", "error", err)
	}
	return p, nil
}

// CacheStatus reports the state of this session's metadata cache.
func (s *Session) CacheStatus() domain.CacheStatus {
	return s.cache.Status()
}

// InvalidateCache clears every cached lookup for this account. The next
// operation repopulates from the remote API.
func (s *Session) InvalidateCache() error {
	s.invalidateUnread()
	return s.cache.InvalidateAll()
}

// === Cache plumbing ===

// fetchLabels lists labels from the API and refreshes the cached mapping.
func (s *Session) fetchLabels(ctx context.Context, cred domain.Credential) ([]domain.Label, error) {
	labels, err := s.api.ListLabels(ctx, cred)
	if err != nil {
		return nil, err
	}

	mapping := make(map[string]string, len(labels))
	for _, l := range labels {
		mapping[l.ID] = l.Name
	}
	if err := s.cache.SaveLabels(mapping); err != nil {
		s.logger.Warn("failed to cache labels", "error", err)
	}
	return labels, nil
}

// enrichLabels fills Message.Labels from Message.LabelIDs using the metadata
// cache, fetching the label list once if any identifier is unknown. An
// identifier that still cannot be resolved keeps its raw value as the name.
func (s *Session) enrichLabels(ctx context.Context, cred domain.Credential, msgs []domain.Message) error {
	// 1. Collect identifiers missing from the cache
	missing := false
	for _, m := range msgs {
		for _, id := range m.LabelIDs {
			if _, ok := s.cache.LabelName(id); !ok {
				missing = true
				break
			}
		}
		if missing {
			break
		}
	}

	// 2. One refresh covers every miss
	var fetchErr error
	if missing {
		if _, err := s.fetchLabels(ctx, cred); err != nil {
			fetchErr = err
		}
	}

	// 3. Resolve, falling back to the raw identifier
	for i := range msgs {
		if len(msgs[i].LabelIDs) == 0 {
			continue
		}
		labels := make([]domain.Label, 0, len(msgs[i].LabelIDs))
		for _, id := range msgs[i].LabelIDs {
			name, ok := s.cache.LabelName(id)
			if !ok {
				name = id
			}
			labels = append(labels, domain.Label{ID: id, Name: name})
		}
		msgs[i].Labels = labels
	}

	return fetchErr
}
