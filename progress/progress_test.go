package progress

import (
	"context"
	"errors"
	"io"
	"testing"
	"unicode/utf8"

	"github.com/dhcgn/mailfetch/stats"
)

func TestBar_CountsEachMessageOnce(t *testing.T) {
	bar := New(io.Discard)
	events := []stats.Event{
		{Stage: stats.StageSearch, Type: stats.EventTypeSearched, Count: 3},
		{Stage: stats.StageParse, Type: stats.EventTypeParsed, Ref: 11, Detail: "a subject that is much longer than the title width allows"},
		{Stage: stats.StageParse, Type: stats.EventTypeError, Ref: 11, Err: errors.New("walk failed")},
		{Stage: stats.StageAttachment, Type: stats.EventTypeSaved, Ref: 11, Name: "a.xlsx"},
		{Stage: stats.StageFetch, Type: stats.EventTypeError, Ref: 12, Err: errors.New("gone")},
		{Stage: stats.StageParse, Type: stats.EventTypeParsed, Ref: 13},
	}
	for _, evt := range events {
		bar.Update(evt)
	}
	bar.Stop()
	bar.Stop()

	if got := bar.Total(); got != 3 {
		t.Errorf("Total() = %d, want 3", got)
	}
	if got := bar.Done(); got != 3 {
		t.Errorf("Done() = %d, want 3", got)
	}
}

func TestBar_IgnoresEventsBeforeSearch(t *testing.T) {
	bar := New(io.Discard)
	bar.Update(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeParsed, Ref: 1})
	bar.Update(stats.Event{Stage: stats.StageSearch, Type: stats.EventTypeSearched, Count: 0})
	bar.Update(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeParsed, Ref: 2})
	bar.Stop()

	if got := bar.Done(); got != 0 {
		t.Errorf("Done() = %d, want 0", got)
	}
}

func TestBar_Subscriber(t *testing.T) {
	bar := New(io.Discard)
	events := make(chan stats.Event, 4)
	events <- stats.Event{Stage: stats.StageSearch, Type: stats.EventTypeSearched, Count: 2}
	events <- stats.Event{Stage: stats.StageParse, Type: stats.EventTypeParsed, Ref: 1}
	events <- stats.Event{Stage: stats.StageParse, Type: stats.EventTypeParsed, Ref: 2}
	close(events)

	if err := bar.Subscriber(context.Background(), events); err != nil {
		t.Fatalf("Subscriber() error = %v", err)
	}
	if got := bar.Done(); got != 2 {
		t.Errorf("Done() = %d, want 2", got)
	}
}

func TestBar_SubscriberCanceled(t *testing.T) {
	bar := New(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bar.Subscriber(ctx, make(chan stats.Event))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Subscriber() error = %v, want context.Canceled", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{name: "short", in: "ventas", width: 10, want: "ventas"},
		{name: "exact", in: "ventas", width: 6, want: "ventas"},
		{name: "ascii", in: "reporte de ventas", width: 10, want: "reporte..."},
		{name: "accents", in: "Facturación señal", width: 12, want: "Facturaci..."},
		{name: "japanese", in: "売上報告書三月分データ", width: 6, want: "売上報..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.width)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.width)
			}
		})
	}
}
