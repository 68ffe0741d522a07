package bench

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/testground/feedbench/pkg/feed"
)

// Kind is the kind of operation a Sample measured.
type Kind int

const (
	KindUpload Kind = iota
	KindSync
	KindDownload
)

func (k Kind) String() string {
	return [...]string{"upload", "sync", "download"}[k]
}

// Sample is the wall-clock duration of one network call or wait.
type Sample struct {
	Kind     Kind
	Endpoint string
	Duration time.Duration
}

// Report collects the samples of one benchmark iteration.
type Report struct {
	Index     uint64
	Reference feed.Reference

	Uploads []Sample
	// Sync and Downloads are only set on iterations selected for read-back.
	Sync      *Sample
	Downloads []Sample
}

// Verified returns whether the iteration downloaded and verified the update.
func (r *Report) Verified() bool {
	return r.Sync != nil
}

// String renders the report in the benchmark's console format.
func (r *Report) String() string {
	var b strings.Builder
	for _, s := range r.Uploads {
		fmt.Fprintf(&b, "\n\tUpload Time on %q: %ss", s.Endpoint, seconds(s.Duration))
	}
	if r.Sync != nil {
		fmt.Fprintf(&b, "\n\tSyncing time: %ss", seconds(r.Sync.Duration))
	}
	for _, s := range r.Downloads {
		fmt.Fprintf(&b, "\n\tFetch Time on %q: %ss", s.Endpoint, seconds(s.Duration))
	}
	return b.String()
}

// seconds formats d with millisecond precision.
func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Round(time.Millisecond).Seconds(), 'f', -1, 64)
}
