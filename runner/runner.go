package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dhcgn/mailfetch/archive"
	"github.com/dhcgn/mailfetch/attachment"
	"github.com/dhcgn/mailfetch/filter"
	"github.com/dhcgn/mailfetch/message"
	"github.com/dhcgn/mailfetch/model"
	"github.com/dhcgn/mailfetch/sanitize"
	"github.com/dhcgn/mailfetch/stats"
)

// OpenFunc connects and authenticates a mailbox.
type OpenFunc func(ctx context.Context) (model.Mailbox, error)

type Options struct {
	Folder           string
	Sender           string
	DownloadDir      string
	Policy           attachment.Policy
	DefaultExtension string
	Expand           bool
	DryRun           bool
	Filter           *filter.Filter
}

// Runner drives one ingestion run: it connects, searches the configured
// sender and saves every matching attachment. Messages are processed one at
// a time; only event delivery to subscribers happens concurrently.
type Runner struct {
	opts      Options
	open      OpenFunc
	logger    *slog.Logger
	extractor *attachment.Extractor
	expander  *archive.Expander

	subsMu sync.Mutex
	subs   []chan stats.Event
	subsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	since time.Time
}

func New(opts Options, open OpenFunc, logger *slog.Logger) (*Runner, error) {
	if open == nil {
		return nil, fmt.Errorf("mailbox opener must not be nil")
	}
	if strings.TrimSpace(opts.Sender) == "" {
		return nil, fmt.Errorf("sender filter is empty")
	}
	if opts.Folder == "" {
		opts.Folder = "INBOX"
	}

	sanitizer := sanitize.New()
	extractor, err := attachment.New(attachment.Options{
		Dir:              opts.DownloadDir,
		Policy:           opts.Policy,
		DefaultExtension: opts.DefaultExtension,
		Sanitizer:        sanitizer,
		SkipCoercion:     skipCoercion(opts.Expand),
	})
	if err != nil {
		return nil, fmt.Errorf("attachment extractor: %w", err)
	}

	var expander *archive.Expander
	if opts.Expand {
		expander, err = archive.NewExpander(extractor.Dir(), sanitizer, logger)
		if err != nil {
			return nil, fmt.Errorf("archive expander: %w", err)
		}
	}

	return &Runner{
		opts:      opts,
		open:      open,
		logger:    logger,
		extractor: extractor,
		expander:  expander,
	}, nil
}

func skipCoercion(expand bool) func(string) bool {
	if !expand {
		return nil
	}
	return archive.IsArchive
}

// DownloadDir returns the absolute directory attachments are written to.
func (r *Runner) DownloadDir() string {
	return r.extractor.Dir()
}

// SubscribeStats registers fn to receive every event of the run on its own
// channel. It must be called before Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 64)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()

	r.subsWG.Add(1)
	go func() {
		defer r.subsWG.Done()
		if err := fn(context.Background(), ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
		// Keep draining so EmitEvent never blocks on a subscriber that returned early.
		for range ch {
		}
	}()
}

// EmitEvent delivers evt to every subscriber.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subsMu.Lock()
	subs := r.subs
	r.subsMu.Unlock()
	for _, ch := range subs {
		ch <- evt
	}
}

// Start executes the run and blocks until all subscribers have drained the
// event stream. It returns the terminal error, if any.
func (r *Runner) Start(ctx context.Context) error {
	r.since = time.Now()

	if err := r.run(ctx); err != nil {
		r.fail(err)
	}

	r.closeSubscribers()
	r.subsWG.Wait()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()

	duration := time.Since(r.since)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("pipeline failed", "duration", duration, "err", err)
		}
		return err
	}

	if r.logger != nil {
		r.logger.Info("pipeline completed", "duration", duration)
	}
	return nil
}

func (r *Runner) run(ctx context.Context) error {
	mailbox, err := r.open(ctx)
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageConnect, Type: stats.EventTypeError, Err: err})
		return err
	}
	defer func() {
		if err := mailbox.Close(); err != nil && r.logger != nil {
			r.logger.Warn("mailbox close failed", "err", err)
		}
	}()
	r.EmitEvent(stats.Event{Stage: stats.StageConnect, Type: stats.EventTypeConnected})

	if err := mailbox.SelectFolder(ctx, r.opts.Folder); err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageSelect, Type: stats.EventTypeError, Name: r.opts.Folder, Err: err})
		return err
	}
	r.EmitEvent(stats.Event{Stage: stats.StageSelect, Type: stats.EventTypeSelected, Name: r.opts.Folder})

	refs, err := mailbox.Search(ctx, r.opts.Sender)
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageSearch, Type: stats.EventTypeError, Detail: r.opts.Sender, Err: err})
		return err
	}
	r.EmitEvent(stats.Event{Stage: stats.StageSearch, Type: stats.EventTypeSearched, Detail: r.opts.Sender, Count: len(refs)})

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.processMessage(ctx, mailbox, ref)
	}

	return nil
}

func (r *Runner) processMessage(ctx context.Context, mailbox model.Mailbox, ref model.MessageRef) {
	raw, err := mailbox.Fetch(ctx, ref)
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageFetch, Type: stats.EventTypeError, Ref: ref, Err: err})
		return
	}

	msg, err := message.Parse(raw)
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeError, Ref: ref, Err: err})
		return
	}
	r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeParsed, Ref: ref, Name: msg.Sender, Detail: msg.Subject, Size: int64(len(raw))})

	walker, err := msg.Walk()
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeError, Ref: ref, Err: err})
		return
	}

	for {
		part, err := walker.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeError, Ref: ref, Err: err})
			return
		}
		r.processPart(ref, part)
	}
}

func (r *Runner) processPart(ref model.MessageRef, part *message.Part) {
	if part.IsMultipart() {
		return
	}

	if !r.extractor.IsAttachment(part) {
		if part.ContentType == "text/plain" {
			r.reportBody(ref, part)
		}
		return
	}

	name, err := r.extractor.Name(part)
	if err != nil {
		if errors.Is(err, attachment.ErrNoFilename) {
			r.EmitEvent(stats.Event{Stage: stats.StageAttachment, Type: stats.EventTypeSkipped, Ref: ref, Detail: "no filename"})
			return
		}
		r.EmitEvent(stats.Event{Stage: stats.StageAttachment, Type: stats.EventTypeError, Ref: ref, Name: part.Filename, Err: err})
		return
	}

	if !r.opts.Filter.Allows(name) {
		r.EmitEvent(stats.Event{Stage: stats.StageAttachment, Type: stats.EventTypeSkipped, Ref: ref, Name: name, Detail: "filtered"})
		return
	}

	if part.DecodeErr != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageAttachment, Type: stats.EventTypeError, Ref: ref, Name: name, Err: part.DecodeErr})
		return
	}

	if r.opts.DryRun {
		r.EmitEvent(stats.Event{Stage: stats.StageAttachment, Type: stats.EventTypeDryRunSaved, Ref: ref, Name: name})
		return
	}

	stored, err := r.extractor.Save(part)
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageAttachment, Type: stats.EventTypeError, Ref: ref, Name: name, Err: err})
		return
	}
	r.EmitEvent(stats.Event{Stage: stats.StageAttachment, Type: stats.EventTypeSaved, Ref: ref, Name: stored.Name, Path: stored.Path, Size: stored.Size})

	if r.expander == nil || !archive.IsArchive(stored.Name) {
		return
	}

	extracted, err := r.expander.MaybeExpand(stored)
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeError, Ref: ref, Name: stored.Name, Path: stored.Path, Count: len(extracted), Err: err})
		return
	}
	r.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeExpanded, Ref: ref, Name: stored.Name, Count: len(extracted), Detail: joinNames(extracted)})
}

func (r *Runner) reportBody(ref model.MessageRef, part *message.Part) {
	text, err := part.Text()
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeError, Ref: ref, Detail: "text body", Err: err})
		return
	}
	r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeBody, Ref: ref, Size: int64(len(text)), Detail: strings.TrimSpace(text)})
}

func joinNames(files []model.StoredFile) string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return strings.Join(names, ", ")
}

func (r *Runner) closeSubscribers() {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.errMu.Unlock()
}
