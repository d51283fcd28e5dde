package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sthaha/emseepee/internal/domain"
)

type modifyCall struct {
	id     string
	add    []string
	remove []string
}

type sentMail struct {
	to, subject, body string
}

// fakeMail is an in-memory MailAPI for tests. Failure modes are opt-in via
// the err* fields; call counters let tests assert on traffic.
type fakeMail struct {
	mu sync.Mutex

	labels   []domain.Label
	messages map[string]*domain.Message
	profile  *domain.Profile
	drafts   []domain.Draft

	modified []modifyCall
	sent     []sentMail
	trashed  []string
	queries  []string

	listIDsCalls    int
	listLabelsCalls int
	getBatchCalls   int

	errListIDs    error
	errListLabels error
	errModify     error
	errGetBatch   error
}

func newFakeMail() *fakeMail {
	return &fakeMail{
		messages: make(map[string]*domain.Message),
		profile:  &domain.Profile{EmailAddress: "user@example.com"},
	}
}

func (f *fakeMail) addMessage(m domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := m
	f.messages[m.ID] = &cp
}

func (f *fakeMail) GetProfile(_ context.Context, _ domain.Credential) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profile == nil {
		return nil, errors.New("no profile")
	}
	p := *f.profile
	return &p, nil
}

func (f *fakeMail) ListLabels(_ context.Context, _ domain.Credential) ([]domain.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listLabelsCalls++
	if f.errListLabels != nil {
		return nil, f.errListLabels
	}
	return append([]domain.Label(nil), f.labels...), nil
}

func (f *fakeMail) GetLabel(_ context.Context, _ domain.Credential, id string) (*domain.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.labels {
		if l.ID == id {
			cp := l
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("label %s: %w", id, domain.ErrLabelNotFound)
}

func (f *fakeMail) ListMessageIDs(_ context.Context, _ domain.Credential, query string, max int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listIDsCalls++
	f.queries = append(f.queries, query)
	if f.errListIDs != nil {
		return nil, f.errListIDs
	}
	ids := make([]string, 0, len(f.messages))
	for id := range f.messages {
		ids = append(ids, id)
	}
	// Deterministic order for assertions
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	if max > 0 && len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

func (f *fakeMail) GetMessage(_ context.Context, _ domain.Credential, id string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, errors.New("message not found")
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMail) GetMessages(_ context.Context, _ domain.Credential, ids []string) (map[string]domain.BatchItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getBatchCalls++
	if f.errGetBatch != nil {
		return nil, f.errGetBatch
	}
	items := make(map[string]domain.BatchItem, len(ids))
	for _, id := range ids {
		if m, ok := f.messages[id]; ok {
			cp := *m
			items[id] = domain.BatchItem{Message: &cp}
		} else {
			items[id] = domain.BatchItem{Err: errors.New("message not found")}
		}
	}
	return items, nil
}

func (f *fakeMail) SendMessage(_ context.Context, _ domain.Credential, to, subject, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return fmt.Sprintf("sent-%d", len(f.sent)), nil
}

func (f *fakeMail) ModifyLabels(_ context.Context, _ domain.Credential, id string, add, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errModify != nil {
		return f.errModify
	}
	f.modified = append(f.modified, modifyCall{id: id, add: add, remove: remove})
	return nil
}

func (f *fakeMail) TrashMessage(_ context.Context, _ domain.Credential, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trashed = append(f.trashed, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeMail) CreateDraft(_ context.Context, _ domain.Credential, to, subject, body string) (*domain.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := domain.Draft{
		ID:      fmt.Sprintf("draft-%d", len(f.drafts)+1),
		Subject: subject,
		To:      to,
	}
	f.drafts = append(f.drafts, d)
	return &d, nil
}

func (f *fakeMail) ListDrafts(_ context.Context, _ domain.Credential) ([]domain.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Draft(nil), f.drafts...), nil
}

func (f *fakeMail) CreateLabel(_ context.Context, _ domain.Credential, name string) (*domain.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := domain.Label{ID: fmt.Sprintf("Label_%d", len(f.labels)+1), Name: name, Type: "user"}
	f.labels = append(f.labels, l)
	return &l, nil
}

func (f *fakeMail) UpdateLabel(_ context.Context, _ domain.Credential, id, name string) (*domain.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.labels {
		if f.labels[i].ID == id {
			f.labels[i].Name = name
			cp := f.labels[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("label %s: %w", id, domain.ErrLabelNotFound)
}

func (f *fakeMail) DeleteLabel(_ context.Context, _ domain.Credential, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.labels {
		if f.labels[i].ID == id {
			f.labels = append(f.labels[:i], f.labels[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("label %s: %w", id, domain.ErrLabelNotFound)
}
