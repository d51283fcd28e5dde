package domain

// SelectorKind distinguishes the three ways a caller can target accounts.
type SelectorKind int

const (
	// SelectCurrent targets only the registry's current account
	SelectCurrent SelectorKind = iota
	// SelectAll targets every registered account
	SelectAll
	// SelectExplicit targets exactly the listed account identifiers
	SelectExplicit
)

// Selector chooses which account(s) an operation runs against. The zero
// value targets the current account.
type Selector struct {
	kind SelectorKind
	ids  []string
}

// CurrentAccount returns a selector for the registry's current account.
func CurrentAccount() Selector {
	return Selector{kind: SelectCurrent}
}

// AllAccounts returns a selector covering every registered account.
func AllAccounts() Selector {
	return Selector{kind: SelectAll}
}

// Accounts returns an explicit selector for the given identifiers.
func Accounts(ids ...string) Selector {
	return Selector{kind: SelectExplicit, ids: ids}
}

// ParseSelector converts the caller-supplied wire shape into a Selector:
// a nil list means the current account, an empty list or the single literal
// "all" means every account, anything else is an explicit set.
func ParseSelector(ids []string) Selector {
	switch {
	case ids == nil:
		return CurrentAccount()
	case len(ids) == 0:
		return AllAccounts()
	case len(ids) == 1 && ids[0] == "all":
		return AllAccounts()
	default:
		return Accounts(ids...)
	}
}

// Kind returns the selector variant.
func (s Selector) Kind() SelectorKind { return s.kind }

// IDs returns a copy of the explicit identifiers; empty unless Kind is
// SelectExplicit.
func (s Selector) IDs() []string {
	if len(s.ids) == 0 {
		return nil
	}
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}
