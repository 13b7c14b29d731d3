package progress

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/dhcgn/mailfetch/model"
	"github.com/dhcgn/mailfetch/stats"
)

const titleWidth = 40

// Bar shows one step per matched message. It is sized by the search result
// and stays hidden until then.
type Bar struct {
	mu      sync.Mutex
	writer  io.Writer
	pb      *pterm.ProgressbarPrinter
	total   int
	done    int
	lastRef model.MessageRef
	stopped bool
}

// New returns a Bar that renders to w, or stdout when w is nil.
func New(w io.Writer) *Bar {
	if w == nil {
		w = os.Stdout
	}
	return &Bar{writer: w}
}

// Total returns the number of messages the bar was sized for.
func (b *Bar) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Done returns the number of messages processed so far.
func (b *Bar) Done() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Update advances the bar for the first parsed or failed event of every
// message.
func (b *Bar) Update(evt stats.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeSearched:
		b.start(evt.Count)
	case stats.EventTypeParsed:
		b.advance(evt.Ref, evt.Detail)
	case stats.EventTypeError:
		if evt.Stage == stats.StageFetch || evt.Stage == stats.StageParse {
			b.advance(evt.Ref, "")
		}
		if evt.Err != nil {
			pterm.Error.WithWriter(b.writer).Printfln("%s: %v", evt.Stage, evt.Err)
		}
	}
}

func (b *Bar) start(total int) {
	if b.pb != nil || total <= 0 {
		return
	}
	b.total = total
	pb, err := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle("Processing messages").
		WithWriter(b.writer).
		Start()
	if err != nil {
		return
	}
	b.pb = pb
}

func (b *Bar) advance(ref model.MessageRef, subject string) {
	if ref == 0 || ref == b.lastRef || b.done >= b.total {
		return
	}
	b.lastRef = ref
	b.done++
	if b.pb == nil {
		return
	}
	if subject != "" {
		b.pb.UpdateTitle("Processing: " + truncate(subject, titleWidth))
	}
	b.pb.Increment()
}

// truncate shortens s to at most width runes, marking the cut with "...".
func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}

// Stop fills and removes the bar.
func (b *Bar) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped || b.pb == nil {
		b.stopped = true
		return
	}
	b.stopped = true
	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
}

// Subscriber feeds events into the bar until the stream closes.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// Reporter renders the bar and a closing summary section instead of one log
// line per event.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	writer    io.Writer
	started   time.Time
}

func NewReporter(stream stats.EventStream, bar *Bar) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		writer:    bar.writer,
		started:   time.Now(),
	}
	stream.SubscribeStats("progress-bar", bar.Subscriber)
	stream.SubscribeStats("progress-summary", reporter.collect)
	return reporter
}

// Summary returns the totals collected so far.
func (r *Reporter) Summary() stats.Summary {
	return r.collector.Snapshot()
}

func (r *Reporter) collect(ctx context.Context, events <-chan stats.Event) error {
	r.collector.Run(ctx, events)
	if err := ctx.Err(); err != nil {
		return err
	}

	summary := r.collector.Snapshot()
	info := pterm.Info.WithWriter(r.writer)
	pterm.DefaultSection.WithWriter(r.writer).Println("Summary")
	info.Printfln("Duration: %v", time.Since(r.started).Round(time.Millisecond))
	info.Printfln("Matched messages: %d", summary.Matched)
	info.Printfln("Parsed: %d", summary.Parsed)
	info.Printfln("Attachments saved: %d (%s)", summary.Saved, humanize.Bytes(uint64(summary.Bytes)))
	if summary.DryRunSaved > 0 {
		info.Printfln("Dry-run attachments: %d", summary.DryRunSaved)
	}
	info.Printfln("Archives expanded: %d (%d files)", summary.Expanded, summary.Extracted)
	info.Printfln("Skipped: %d", summary.Skipped)
	info.Printfln("Errors: %d", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.WithWriter(r.writer).Printfln("Last error: %v", summary.LastError)
	}
	return nil
}
