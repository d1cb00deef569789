package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Fanout writes every entry to each of its recorders. A failing recorder does
// not prevent the others from receiving the entry.
type Fanout struct {
	recorders []Recorder
}

// NewFanout combines recorders, skipping nil ones.
func NewFanout(recorders ...Recorder) *Fanout {
	set := make([]Recorder, 0, len(recorders))
	for _, r := range recorders {
		if r == nil {
			continue
		}
		set = append(set, r)
	}
	return &Fanout{recorders: set}
}

// Name implements Recorder.
func (f *Fanout) Name() string { return "fanout" }

// Record implements Recorder.
func (f *Fanout) Record(ctx context.Context, entry Entry) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, r := range f.recorders {
		if err := r.Record(ctx, entry); err != nil {
			errs = append(errs, fmt.Errorf("recorder %s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ListLatest reads from the first recorder that supports listing.
func (f *Fanout) ListLatest(ctx context.Context, limit int) ([]Entry, error) {
	for _, r := range f.recorders {
		if reader, ok := r.(Reader); ok {
			return reader.ListLatest(ctx, limit)
		}
	}
	return nil, errors.New("没有支持查询的提交记录")
}

// Close implements Recorder.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, r := range f.recorders {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("recorder %s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}
