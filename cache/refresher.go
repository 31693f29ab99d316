package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FetchFunc retrieves the authoritative snapshot for a scheduled refresh.
// The worker binds this to a specific user ID at Schedule time and resolves
// that user's access token when the fetch runs.
type FetchFunc func(ctx context.Context) (Entry, error)

// Refresher coalesces bursts of refresh requests for the same board_id into
// a single fetch per quiet period, mirroring the cancel-and-replace
// _schedule_refresh behavior of the original change queue.
type Refresher struct {
	debounce time.Duration
	timeout  time.Duration
	store    Store
	log      *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewRefresher(debounce, timeout time.Duration, store Store, log *slog.Logger) *Refresher {
	return &Refresher{
		debounce: debounce,
		timeout:  timeout,
		store:    store,
		log:      log,
		timers:   make(map[string]*time.Timer),
	}
}

// Schedule arranges for fetch to run after the debounce window elapses. If
// a refresh is already pending for boardID, it is reset rather than
// duplicated: only the most recently scheduled fetch for a quiet period
// actually runs.
func (r *Refresher) Schedule(boardID string, fetch FetchFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[boardID]; ok {
		t.Stop()
	}
	r.timers[boardID] = time.AfterFunc(r.debounce, func() {
		r.fire(boardID, fetch)
	})
}

func (r *Refresher) fire(boardID string, fetch FetchFunc) {
	r.mu.Lock()
	delete(r.timers, boardID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	entry, err := fetch(ctx)
	if err != nil {
		r.log.Warn("cache refresh failed", "board_id", boardID, "err", err)
		return
	}
	entry.BoardID = boardID
	entry.CreatedAt = time.Now()
	if err := r.store.Set(ctx, &entry); err != nil {
		r.log.Error("cache refresh store failed", "board_id", boardID, "err", err)
	}
}

// Stop cancels every pending refresh timer. In-flight fetches started
// before Stop is called are not interrupted.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}
