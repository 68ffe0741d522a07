package bench

import (
	"context"
	"time"

	"github.com/testground/feedbench/pkg/feed"
	"github.com/testground/feedbench/pkg/logging"
)

const (
	DefaultPollInterval = 1000 * time.Millisecond
	DefaultPollTrials   = 15
	DefaultSettleDelay  = 500 * time.Millisecond
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the SleepFunc backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SyncDetector polls the replication status of an upload until the network
// reports it fully synced.
//
// The trial budget only counts consecutive polls without progress: whenever
// the synced count changes the counter starts over, so a slow but advancing
// replication is waited on indefinitely.
type SyncDetector struct {
	PollInterval time.Duration
	Trials       int
	// SettleDelay is waited after the network reports completion, since a
	// synced upload is not immediately retrievable everywhere.
	SettleDelay time.Duration

	Sleep SleepFunc
}

// NewSyncDetector returns a detector with the default polling parameters.
func NewSyncDetector() *SyncDetector {
	return &SyncDetector{
		PollInterval: DefaultPollInterval,
		Trials:       DefaultPollTrials,
		SettleDelay:  DefaultSettleDelay,
		Sleep:        Sleep,
	}
}

// WaitSyncing blocks until the upload identified by h is synced according to
// node, or fails with a *SyncTimeoutError. Errors of the tag query itself are
// returned as *TransportError.
func (d *SyncDetector) WaitSyncing(ctx context.Context, node feed.TagRetriever, url string, h feed.Handle) error {
	sleep := d.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var (
		observed  int64
		unchanged int
	)
	for {
		tag, err := node.RetrieveTag(ctx, h)
		if err != nil {
			return &TransportError{Op: "retrieve tag", URL: url, Err: err}
		}

		if tag.Synced != observed {
			observed = tag.Synced
			unchanged = 0
		}

		if observed >= tag.Total {
			logging.S().Debugw("upload synced", "url", url, "tag", h, "synced", observed, "total", tag.Total)
			return sleep(ctx, d.SettleDelay)
		}

		unchanged++
		if unchanged >= d.Trials {
			return &SyncTimeoutError{URL: url, Handle: h, Trials: d.Trials}
		}

		logging.S().Debugw("waiting for sync", "url", url, "tag", h, "synced", observed, "total", tag.Total, "trial", unchanged)
		if err := sleep(ctx, d.PollInterval); err != nil {
			return err
		}
	}
}
