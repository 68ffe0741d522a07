package bench

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/testground/feedbench/pkg/feed"
)

// DefaultSyncDelay is the fixed wait of the delay sync mode.
const DefaultSyncDelay = 40 * time.Second

// Upload is a completed upload of one iteration.
type Upload struct {
	Node   feed.Node
	Handle feed.Handle
}

// Waiter blocks until the uploads of an iteration can be read back.
type Waiter interface {
	Wait(ctx context.Context, uploads []Upload) error
}

// SyncWaiter waits for every upload to be reported synced by the node it was
// uploaded to. A nil Detector uses NewSyncDetector.
type SyncWaiter struct {
	Detector *SyncDetector
}

var _ Waiter = (*SyncWaiter)(nil)

func (w *SyncWaiter) Wait(ctx context.Context, uploads []Upload) error {
	detector := w.Detector
	if detector == nil {
		detector = NewSyncDetector()
	}

	grp, ctx := errgroup.WithContext(ctx)
	for _, u := range uploads {
		u := u
		grp.Go(func() error {
			return detector.WaitSyncing(ctx, u.Node, u.Node.URL(), u.Handle)
		})
	}
	return grp.Wait()
}

// DelayWaiter ignores replication status and waits a fixed delay.
// Some nodes serve stale updates for a while after their tags report
// completion.
type DelayWaiter struct {
	Delay time.Duration
	Sleep SleepFunc
}

var _ Waiter = (*DelayWaiter)(nil)

func (w *DelayWaiter) Wait(ctx context.Context, _ []Upload) error {
	sleep := w.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	return sleep(ctx, w.Delay)
}
