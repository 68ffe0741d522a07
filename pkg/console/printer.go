// Package console renders the progress of a benchmark run for humans.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/logrusorgru/aurora"

	"github.com/testground/feedbench/pkg/bench"
)

type eventType int

const (
	Upload eventType = iota
	Sync
	Download
	Ok
	Fail
)

func (et eventType) String() string {
	return [...]string{"Upload", "Sync", "Download", "Ok", "Fail"}[et]
}

// Printer is a bench.Observer that sends output to the console.
type Printer struct {
	out     io.Writer
	aurora  aurora.Aurora
	classes [5]aurora.Value

	// guarded by atomic.
	reports  uint32
	verified uint32

	start time.Time
	now   func() time.Time
}

var _ bench.Observer = (*Printer)(nil)

// NewPrinter constructs a printer writing to out, colouring its output if
// colors is set.
func NewPrinter(out io.Writer, colors bool) *Printer {
	au := aurora.NewAurora(colors)
	return &Printer{
		out:    out,
		aurora: au,
		classes: [...]aurora.Value{
			au.BgBrightCyan("UPLOAD").Black(),
			au.BgBlue("SYNC").White(),
			au.BgWhite("DOWNLOAD").Black(),
			au.BgGreen("OK").White(),
			au.BgRed("FAIL").White(),
		},
		start: time.Now(),
		now:   time.Now,
	}
}

func (c *Printer) Stage(i uint64, s bench.Stage) {
	c.print(i, eventType(s), "")
}

func (c *Printer) Report(r *bench.Report) {
	atomic.AddUint32(&c.reports, 1)
	if r.Verified() {
		atomic.AddUint32(&c.verified, 1)
	}
	c.print(r.Index, Ok, r.String())
}

// Fail reports the error that aborted iteration i.
func (c *Printer) Fail(i uint64, err error) {
	c.print(i, Fail, err)
}

// Summary prints the totals of the run.
func (c *Printer) Summary() {
	took := strings.TrimSpace(humanize.RelTime(c.start, c.now(), "", ""))
	fmt.Fprintf(c.out, "%d updates published, %d verified, took %s\n",
		atomic.LoadUint32(&c.reports),
		atomic.LoadUint32(&c.verified),
		took,
	)
}

func (c *Printer) print(i uint64, evtType eventType, message ...interface{}) {
	var (
		elapsed = c.now().Sub(c.start)
		class   = c.classes[evtType]
		msg     = fmt.Sprint(message...)
	)

	if elapsed < 0 {
		elapsed = 0
	}

	fmt.Fprintf(c.out, "%9.4fs %10s %s %s\n",
		float64(elapsed)/float64(time.Second),
		class,
		c.aurora.Index(uint8(i%15)+1, fmt.Sprintf("<< update %d >>", i)),
		msg,
	)
}
