package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sthaha/emseepee/internal/domain"
)

// AccountResult is one account's successful result within an aggregated
// operation.
type AccountResult[T any] struct {
	AccountID string `json:"account_id"`
	Value     T      `json:"value"`
}

// AccountError is one account's failure within an aggregated operation.
type AccountError struct {
	AccountID string `json:"account_id"`
	Err       error  `json:"-"`
	Message   string `json:"error"`
}

// Aggregated collects per-account outcomes of a fanned-out operation. One
// account failing never hides another account's result.
type Aggregated[T any] struct {
	Results  []AccountResult[T] `json:"results"`
	Errors   []AccountError     `json:"errors,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// Dispatcher fans one operation out across the accounts a selector names and
// aggregates the per-account outcomes.
type Dispatcher struct {
	registry      *Registry
	maxConcurrent int
	logger        *slog.Logger
}

// NewDispatcher creates a dispatcher. maxConcurrent 0 means one goroutine per
// selected account, unbounded.
func NewDispatcher(registry *Registry, maxConcurrent int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:      registry,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// Dispatch runs op against every account the selector resolves to,
// concurrently, and aggregates results, per-account errors, and selector
// warnings. Output ordering is deterministic: results and errors are sorted
// by account identifier. A panic inside op is contained as that account's
// error.
//
// This is a package function because Dispatcher methods cannot carry their
// own type parameter.
func Dispatch[T any](ctx context.Context, d *Dispatcher, sel domain.Selector, op func(ctx context.Context, sess *Session) (T, error)) (*Aggregated[T], error) {
	ids, warnings, err := d.registry.Select(sel)
	if err != nil {
		return nil, err
	}

	agg := &Aggregated[T]{Warnings: warnings}
	if len(ids) == 0 {
		return agg, nil
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem chan struct{}
	)
	if d.maxConcurrent > 0 {
		sem = make(chan struct{}, d.maxConcurrent)
	}

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if sem != nil {
				// A cancelled dispatch must not launch queued operations
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					mu.Lock()
					agg.Errors = append(agg.Errors, AccountError{AccountID: id, Err: ctx.Err(), Message: ctx.Err().Error()})
					mu.Unlock()
					return
				}
			}

			value, err := runOne(ctx, d, id, op)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				agg.Errors = append(agg.Errors, AccountError{AccountID: id, Err: err, Message: err.Error()})
				return
			}
			agg.Results = append(agg.Results, AccountResult[T]{AccountID: id, Value: value})
		}(id)
	}
	wg.Wait()

	sort.Slice(agg.Results, func(i, j int) bool { return agg.Results[i].AccountID < agg.Results[j].AccountID })
	sort.Slice(agg.Errors, func(i, j int) bool { return agg.Errors[i].AccountID < agg.Errors[j].AccountID })

	d.logger.Debug("dispatch complete", "accounts", len(ids), "ok", len(agg.Results), "failed", len(agg.Errors))
	return agg, nil
}

// runOne executes op for a single account, containing panics.
func runOne[T any](ctx context.Context, d *Dispatcher, id string, op func(ctx context.Context, sess *Session) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("operation panicked", "account", id, "panic", r)
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()

	sess, err := d.registry.GetOrCreate(id)
	if err != nil {
		return value, err
	}
	return op(ctx, sess)
}

// FlattenMessages merges per-account message lists into one slice, stamping
// every message with its account identifier so callers can tell results
// apart.
func FlattenMessages(agg *Aggregated[[]domain.Message]) []domain.Message {
	var out []domain.Message
	for _, r := range agg.Results {
		for _, m := range r.Value {
			m.AccountID = r.AccountID
			out = append(out, m)
		}
	}
	return out
}
