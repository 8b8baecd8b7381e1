package mt5bridge

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TimeSync tracks the offset between the terminal server clock and the
// local clock. Broker servers usually run on their own timezone.
type TimeSync struct {
	getServerTime func(context.Context) (int64, error)
	log           zerolog.Logger
	syncInterval  time.Duration
	now           func() time.Time

	mu       sync.RWMutex
	offset   int64 // milliseconds, server - local
	lastSync time.Time
}

// NewTimeSync creates a clock tracker around getServerTime (unix ms).
func NewTimeSync(getServerTime func(context.Context) (int64, error), logger zerolog.Logger) *TimeSync {
	return &TimeSync{
		getServerTime: getServerTime,
		log:           logger,
		syncInterval:  30 * time.Minute,
		now:           time.Now,
	}
}

// Start re-syncs periodically until ctx is done.
func (ts *TimeSync) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(ts.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.Sync(ctx); err != nil {
					ts.log.Warn().Err(err).Msg("time sync failed")
				}
			}
		}
	}()
}

// Sync measures the offset once, assuming symmetric latency.
func (ts *TimeSync) Sync(ctx context.Context) error {
	before := ts.now().UnixMilli()
	server, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	after := ts.now().UnixMilli()
	local := before + (after-before)/2

	ts.mu.Lock()
	ts.offset = server - local
	ts.lastSync = ts.now()
	ts.mu.Unlock()

	ts.log.Debug().Int64("offset_ms", server-local).Msg("server time synced")
	return nil
}

// Now returns the current server time.
func (ts *TimeSync) Now() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.now().Add(time.Duration(ts.offset) * time.Millisecond)
}

// Offset returns the last measured offset.
func (ts *TimeSync) Offset() time.Duration {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Duration(ts.offset) * time.Millisecond
}
