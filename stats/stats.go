package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	humanize "github.com/dustin/go-humanize"

	"github.com/dhcgn/mailfetch/model"
)

type Stage string

const (
	StageConnect    Stage = "connect"
	StageSelect     Stage = "select"
	StageSearch     Stage = "search"
	StageFetch      Stage = "fetch"
	StageParse      Stage = "parse"
	StageAttachment Stage = "attachment"
	StageArchive    Stage = "archive"
)

type EventType string

const (
	EventTypeConnected   EventType = "connected"
	EventTypeSelected    EventType = "selected"
	EventTypeSearched    EventType = "searched"
	EventTypeParsed      EventType = "parsed"
	EventTypeBody        EventType = "body"
	EventTypeSaved       EventType = "saved"
	EventTypeDryRunSaved EventType = "dry_run_saved"
	EventTypeExpanded    EventType = "expanded"
	EventTypeSkipped     EventType = "skipped"
	EventTypeError       EventType = "error"
)

// Event is one observable step of a pipeline run.
type Event struct {
	Stage  Stage
	Type   EventType
	Ref    model.MessageRef
	Name   string
	Path   string
	Size   int64
	Count  int
	Detail string
	Err    error
}

// LogAttrs renders the populated fields of evt as slog key/value pairs.
func (evt Event) LogAttrs() []any {
	attrs := []any{"stage", string(evt.Stage)}
	if evt.Ref != 0 {
		attrs = append(attrs, "ref", evt.Ref.String())
	}
	if evt.Name != "" {
		attrs = append(attrs, "name", evt.Name)
	}
	if evt.Path != "" {
		attrs = append(attrs, "path", evt.Path)
	}
	if evt.Size > 0 {
		attrs = append(attrs, "size", humanize.Bytes(uint64(evt.Size)))
	}
	if evt.Type == EventTypeSearched || evt.Type == EventTypeExpanded {
		attrs = append(attrs, "count", evt.Count)
	}
	if evt.Detail != "" {
		attrs = append(attrs, "detail", evt.Detail)
	}
	if evt.Err != nil {
		attrs = append(attrs, "err", evt.Err)
	}
	return attrs
}

type Summary struct {
	Matched     int
	Parsed      int
	Saved       int
	DryRunSaved int
	Expanded    int
	Extracted   int
	Skipped     int
	Bytes       int64
	Errors      int
	LastError   error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"matched", s.Matched,
		"parsed", s.Parsed,
		"saved", s.Saved,
		"dryRunSaved", s.DryRunSaved,
		"expanded", s.Expanded,
		"extracted", s.Extracted,
		"skipped", s.Skipped,
		"bytes", humanize.Bytes(uint64(s.Bytes)),
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Apply folds a single event into the summary.
func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeSearched:
		c.summary.Matched += evt.Count
	case EventTypeParsed:
		c.summary.Parsed++
	case EventTypeSaved:
		c.summary.Saved++
		c.summary.Bytes += evt.Size
	case EventTypeDryRunSaved:
		c.summary.DryRunSaved++
	case EventTypeExpanded:
		c.summary.Expanded++
		c.summary.Extracted += evt.Count
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

// Reporter writes one log line per event and a summary once the stream ends.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
	perEvent  bool
}

// NewReporter subscribes a Reporter to stream. With perEvent false only the
// summary is logged.
func NewReporter(stream EventStream, logger *slog.Logger, perEvent bool) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
		perEvent:  perEvent,
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return r.finish(ctx)
		case evt, ok := <-events:
			if !ok {
				return r.finish(ctx)
			}
			r.collector.Apply(evt)
			if r.perEvent {
				r.log(evt)
			}
		}
	}
}

func (r *Reporter) finish(ctx context.Context) error {
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) log(evt Event) {
	if r.logger == nil {
		return
	}
	switch evt.Type {
	case EventTypeError:
		r.logger.Error(eventMessage(evt), evt.LogAttrs()...)
	case EventTypeSkipped:
		r.logger.Warn(eventMessage(evt), evt.LogAttrs()...)
	case EventTypeBody:
		r.logger.Debug(eventMessage(evt), evt.LogAttrs()...)
	default:
		r.logger.Info(eventMessage(evt), evt.LogAttrs()...)
	}
}

func eventMessage(evt Event) string {
	switch evt.Type {
	case EventTypeConnected:
		return "connected to mailbox"
	case EventTypeSelected:
		return "folder selected"
	case EventTypeSearched:
		return "messages found"
	case EventTypeParsed:
		return "parsed message"
	case EventTypeBody:
		return "message body"
	case EventTypeSaved:
		return "attachment saved"
	case EventTypeDryRunSaved:
		return "attachment would be saved"
	case EventTypeExpanded:
		return "archive expanded"
	case EventTypeSkipped:
		return "skipped"
	default:
		return string(evt.Stage) + " failed"
	}
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
