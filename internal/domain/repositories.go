package domain

import (
	"context"
)

// BatchItem is one entry of a batch message fetch: either the full message or
// the per-item error the remote API reported for that identifier.
type BatchItem struct {
	Message *Message
	Err     error
}

// MailAPI is the capability surface of the remote mailbox service. Every call
// authenticates with the supplied credential. Implementations are external
// collaborators; the accelerator only assumes a batch ceiling and per-item
// errors inside an otherwise-successful batch response.
type MailAPI interface {
	// GetProfile returns the account holder's profile
	GetProfile(ctx context.Context, cred Credential) (*Profile, error)

	// ListLabels returns every label defined in the mailbox
	ListLabels(ctx context.Context, cred Credential) ([]Label, error)

	// GetLabel returns a single label by identifier
	GetLabel(ctx context.Context, cred Credential, id string) (*Label, error)

	// ListMessageIDs returns identifiers of messages matching the query,
	// newest first, at most max
	ListMessageIDs(ctx context.Context, cred Credential, query string, max int) ([]string, error)

	// GetMessage returns one full message
	GetMessage(ctx context.Context, cred Credential, id string) (*Message, error)

	// GetMessages resolves up to one batch of identifiers in a single remote
	// call. The returned map has an entry for every requested identifier; an
	// error return means the whole call failed at the transport layer.
	GetMessages(ctx context.Context, cred Credential, ids []string) (map[string]BatchItem, error)

	// SendMessage sends a message and returns its new identifier
	SendMessage(ctx context.Context, cred Credential, to, subject, body string) (string, error)

	// ModifyLabels adds and removes labels on a message
	ModifyLabels(ctx context.Context, cred Credential, id string, add, remove []string) error

	// TrashMessage moves a message to the trash
	TrashMessage(ctx context.Context, cred Credential, id string) error

	// CreateDraft creates an unsent draft
	CreateDraft(ctx context.Context, cred Credential, to, subject, body string) (*Draft, error)

	// ListDrafts returns all drafts
	ListDrafts(ctx context.Context, cred Credential) ([]Draft, error)

	// CreateLabel creates a user label
	CreateLabel(ctx context.Context, cred Credential, name string) (*Label, error)

	// UpdateLabel renames an existing label
	UpdateLabel(ctx context.Context, cred Credential, id, name string) (*Label, error)

	// DeleteLabel deletes a user label
	DeleteLabel(ctx context.Context, cred Credential, id string) error
}
