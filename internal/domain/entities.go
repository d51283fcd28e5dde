package domain

import "time"

// Message is one mail item as returned by the accelerator. LabelIDs always
// carries the raw identifiers from the remote API; Labels holds whatever names
// could be resolved from the metadata cache or the API, falling back to the
// raw identifier when resolution fails.
type Message struct {
	ID        string   `json:"id"`
	ThreadID  string   `json:"thread_id,omitempty"`
	Subject   string   `json:"subject"`
	From      string   `json:"from"`
	To        string   `json:"to,omitempty"`
	Date      string   `json:"date,omitempty"`
	Snippet   string   `json:"snippet,omitempty"`
	Body      string   `json:"body,omitempty"`
	LabelIDs  []string `json:"label_ids,omitempty"`
	Labels    []Label  `json:"labels,omitempty"`
	AccountID string   `json:"account_id,omitempty"`
}

// Label is a mailbox label/folder.
type Label struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type,omitempty"` // "system" or "user"
	MessagesTotal  int    `json:"messages_total,omitempty"`
	MessagesUnread int    `json:"messages_unread,omitempty"`
}

// Profile is the account holder's public mailbox profile.
type Profile struct {
	EmailAddress  string `json:"email_address"`
	DisplayName   string `json:"display_name,omitempty"`
	MessagesTotal int    `json:"messages_total,omitempty"`
	ThreadsTotal  int    `json:"threads_total,omitempty"`
}

// Draft is an unsent message.
type Draft struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id,omitempty"`
	Subject   string `json:"subject"`
	To        string `json:"to,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
}

// AccountStatus describes the outcome of discovering one account directory.
type AccountStatus string

const (
	AccountLoaded       AccountStatus = "loaded"
	AccountNoCredential AccountStatus = "no-credential"
	AccountError        AccountStatus = "error"
)

// AccountSummary is the outward-facing description of a discovered account.
// It never exposes file system paths.
type AccountSummary struct {
	ID       string        `json:"id"`
	Status   AccountStatus `json:"status"`
	Email    string        `json:"email,omitempty"`
	HasCache bool          `json:"has_cache"`
	Reason   string        `json:"reason,omitempty"`
}

// CacheStatus reports the state of one account's metadata cache.
type CacheStatus struct {
	Exists             bool      `json:"exists"`
	LabelCount         int       `json:"label_count"`
	LabelsRefreshedAt  time.Time `json:"labels_refreshed_at,omitzero"`
	ProfileRefreshedAt time.Time `json:"profile_refreshed_at,omitzero"`
}

// Credential is one account's token material. Decoding tolerates unknown
// fields so older binaries can read files written by newer ones.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Valid reports whether the access token is usable at the given instant,
// treating anything inside the margin before expiry as already expired.
func (c Credential) Valid(now time.Time, margin time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	return now.Add(margin).Before(c.Expiry)
}
