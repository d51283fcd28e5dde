package domain

// MetadataStore handles one account's local cache of slow-changing lookups
// (label id to name mappings, profile). Backed by BoltDB plus an in-memory
// mirror; never shared across accounts.
type MetadataStore interface {
	// === Labels ===
	LabelName(id string) (string, bool)
	Labels() map[string]string
	SaveLabels(labels map[string]string) error
	InvalidateLabel(id string) error

	// === Profile ===
	Profile() (*Profile, bool)
	SaveProfile(p *Profile) error

	// === Invalidation ===
	InvalidateAll() error

	// === Maintenance ===
	Status() CacheStatus

	Close() error
}
