package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthaha/emseepee/internal/domain"
	"github.com/sthaha/emseepee/internal/log"
)

// fakeAPI implements only GetMessages; the embedded interface panics on
// anything else, which is what we want in these tests.
type fakeAPI struct {
	domain.MailAPI

	mu    sync.Mutex
	calls [][]string
	fn    func(ids []string) (map[string]domain.BatchItem, error)
	ctxFn func(ctx context.Context, ids []string) (map[string]domain.BatchItem, error)
}

func (f *fakeAPI) GetMessages(ctx context.Context, _ domain.Credential, ids []string) (map[string]domain.BatchItem, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ids)
	f.mu.Unlock()
	if f.ctxFn != nil {
		return f.ctxFn(ctx, ids)
	}
	return f.fn(ids)
}

func allOK(ids []string) (map[string]domain.BatchItem, error) {
	items := make(map[string]domain.BatchItem, len(ids))
	for _, id := range ids {
		items[id] = domain.BatchItem{Message: &domain.Message{ID: id, Subject: "subject " + id}}
	}
	return items, nil
}

func TestFetchManyDedupesAndCoversAllIDs(t *testing.T) {
	api := &fakeAPI{fn: allOK}
	f := NewFetcher(api, 0, log.NullLogger())

	out := f.FetchMany(context.Background(), domain.Credential{}, []string{"a", "b", "a", "c", "b"})

	require.Len(t, out, 3)
	for _, id := range []string{"a", "b", "c"} {
		r, ok := out[id]
		require.True(t, ok, "missing result for %s", id)
		require.NoError(t, r.Err)
		assert.Equal(t, id, r.Message.ID)
	}
	require.Len(t, api.calls, 1)
	assert.Equal(t, []string{"a", "b", "c"}, api.calls[0])
}

func TestFetchManyChunksRequests(t *testing.T) {
	api := &fakeAPI{fn: allOK}
	f := NewFetcher(api, 2, log.NullLogger())

	ids := []string{"m1", "m2", "m3", "m4", "m5"}
	out := f.FetchMany(context.Background(), domain.Credential{}, ids)

	require.Len(t, out, 5)
	require.Len(t, api.calls, 3)
	for _, call := range api.calls {
		assert.LessOrEqual(t, len(call), 2)
	}
}

func TestFetchManyChunkFailureMarksEveryIDInChunk(t *testing.T) {
	boom := fmt.Errorf("gateway timeout: %w", domain.ErrServerUnreachable)
	api := &fakeAPI{fn: func(ids []string) (map[string]domain.BatchItem, error) {
		for _, id := range ids {
			if id == "bad" {
				return nil, boom
			}
		}
		return allOK(ids)
	}}
	f := NewFetcher(api, 2, log.NullLogger())

	out := f.FetchMany(context.Background(), domain.Credential{}, []string{"a", "b", "bad", "d"})

	require.Len(t, out, 4)
	require.NoError(t, out["a"].Err)
	require.NoError(t, out["b"].Err)
	assert.ErrorIs(t, out["bad"].Err, domain.ErrServerUnreachable)
	assert.ErrorIs(t, out["d"].Err, domain.ErrServerUnreachable)
}

func TestFetchManyPerItemErrorAffectsOnlyThatItem(t *testing.T) {
	api := &fakeAPI{fn: func(ids []string) (map[string]domain.BatchItem, error) {
		items, _ := allOK(ids)
		for _, id := range ids {
			if id == "gone" {
				items[id] = domain.BatchItem{Err: errors.New("message not found")}
			}
		}
		return items, nil
	}}
	f := NewFetcher(api, 10, log.NullLogger())

	out := f.FetchMany(context.Background(), domain.Credential{}, []string{"ok1", "gone", "ok2"})

	require.NoError(t, out["ok1"].Err)
	require.NoError(t, out["ok2"].Err)
	assert.EqualError(t, out["gone"].Err, "message not found")
}

func TestFetchManyMissingResultReportedAsError(t *testing.T) {
	api := &fakeAPI{fn: func(ids []string) (map[string]domain.BatchItem, error) {
		items, _ := allOK(ids)
		delete(items, "lost")
		return items, nil
	}}
	f := NewFetcher(api, 10, log.NullLogger())

	out := f.FetchMany(context.Background(), domain.Credential{}, []string{"kept", "lost"})

	require.NoError(t, out["kept"].Err)
	require.Error(t, out["lost"].Err)
}

func TestFetchManyEmptyInput(t *testing.T) {
	api := &fakeAPI{fn: allOK}
	f := NewFetcher(api, 10, log.NullLogger())

	out := f.FetchMany(context.Background(), domain.Credential{}, nil)
	assert.Empty(t, out)
	assert.Empty(t, api.calls)
}

func TestFetchManyCancelledContext(t *testing.T) {
	api := &fakeAPI{ctxFn: func(ctx context.Context, ids []string) (map[string]domain.BatchItem, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return allOK(ids)
	}}
	f := NewFetcher(api, 2, log.NullLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.FetchMany(ctx, domain.Credential{}, []string{"a", "b", "c"})

	// Cancellation still yields a complete outcome, every id carrying the
	// context error
	require.Len(t, out, 3)
	for _, id := range []string{"a", "b", "c"} {
		assert.ErrorIs(t, out[id].Err, context.Canceled)
	}
}

func TestOutcomeMessagesPreservesRequestOrder(t *testing.T) {
	api := &fakeAPI{fn: func(ids []string) (map[string]domain.BatchItem, error) {
		items, _ := allOK(ids)
		items["skip"] = domain.BatchItem{Err: errors.New("nope")}
		return items, nil
	}}
	f := NewFetcher(api, 10, log.NullLogger())

	ids := []string{"c", "skip", "a", "b"}
	out := f.FetchMany(context.Background(), domain.Credential{}, ids)

	msgs := out.Messages(ids)
	require.Len(t, msgs, 3)
	assert.Equal(t, "c", msgs[0].ID)
	assert.Equal(t, "a", msgs[1].ID)
	assert.Equal(t, "b", msgs[2].ID)
}
