package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sthaha/emseepee/internal/domain"
)

// DefaultChunkSize matches the remote API's batch ceiling.
const DefaultChunkSize = 50

// Result is the outcome for a single identifier: the full message or the
// error that prevented fetching it.
type Result struct {
	Message *domain.Message
	Err     error
}

// Outcome maps every requested identifier to its result. The key set always
// equals the deduplicated request set; nothing is silently dropped.
type Outcome map[string]Result

// Messages returns the successfully fetched messages in the order of ids,
// skipping identifiers that errored. Callers that need stable output pass
// their original request order.
func (o Outcome) Messages(ids []string) []*domain.Message {
	out := make([]*domain.Message, 0, len(ids))
	for _, id := range ids {
		if r, ok := o[id]; ok && r.Err == nil {
			out = append(out, r.Message)
		}
	}
	return out
}

// Fetcher retrieves full message records for sets of identifiers using the
// fewest possible remote calls. It does not retry failed items; retry policy
// belongs to the caller.
type Fetcher struct {
	api       domain.MailAPI
	chunkSize int
	logger    *slog.Logger
}

// NewFetcher creates a batch fetcher. chunkSize <= 0 selects the default.
func NewFetcher(api domain.MailAPI, chunkSize int, logger *slog.Logger) *Fetcher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		api:       api,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// FetchMany resolves the given identifiers in batch calls of at most the
// configured chunk size, issued concurrently. A transport-level chunk failure
// marks every identifier in that chunk with the same error; a per-item error
// inside a successful chunk affects only that item.
func (f *Fetcher) FetchMany(ctx context.Context, cred domain.Credential, ids []string) Outcome {
	unique := dedupe(ids)
	outcome := make(Outcome, len(unique))
	if len(unique) == 0 {
		return outcome
	}

	chunks := chunk(unique, f.chunkSize)
	f.logger.Debug("batch fetch", "ids", len(unique), "chunks", len(chunks))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, ids := range chunks {
		wg.Add(1)
		go func(ids []string) {
			defer wg.Done()

			items, err := f.api.GetMessages(ctx, cred, ids)
			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				// Whole chunk failed at the transport layer; attribute the
				// same error to every identifier in it
				for _, id := range ids {
					outcome[id] = Result{Err: err}
				}
				return
			}

			for _, id := range ids {
				item, ok := items[id]
				switch {
				case !ok:
					outcome[id] = Result{Err: fmt.Errorf("no result returned for message %s", id)}
				case item.Err != nil:
					outcome[id] = Result{Err: item.Err}
				default:
					outcome[id] = Result{Message: item.Message}
				}
			}
		}(ids)
	}

	wg.Wait()
	return outcome
}

// dedupe removes duplicate identifiers, preserving first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// chunk partitions ids into slices of at most size elements.
func chunk(ids []string, size int) [][]string {
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
