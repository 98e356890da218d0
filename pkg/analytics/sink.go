package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/glass-erp/deleteflow/pkg/archive"
	"github.com/glass-erp/deleteflow/pkg/contracts"
)

// Sink receives batches of recorded events.
type Sink interface {
	Write(ctx context.Context, events []contracts.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, events []contracts.Event) error

func (f SinkFunc) Write(ctx context.Context, events []contracts.Event) error {
	return f(ctx, events)
}

// MultiSink writes every batch to all sinks and joins their errors.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, events []contracts.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ArchiveSink writes each batch as newline-delimited JSON objects, one
// object per session, into an archive store.
type ArchiveSink struct {
	store  archive.Store
	prefix string
}

// NewArchiveSink writes under prefix (for example "events/").
func NewArchiveSink(store archive.Store, prefix string) *ArchiveSink {
	return &ArchiveSink{store: store, prefix: prefix}
}

func (s *ArchiveSink) Write(ctx context.Context, events []contracts.Event) error {
	bySession := make(map[string][]contracts.Event)
	for _, e := range events {
		bySession[e.SessionID] = append(bySession[e.SessionID], e)
	}
	sessions := make([]string, 0, len(bySession))
	for id := range bySession {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)

	for _, id := range sessions {
		batch := bySession[id]
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, e := range batch {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("encode event %s: %w", e.ID, err)
			}
		}
		key := ArchiveKey(s.prefix, batch[0])
		if err := s.store.Put(ctx, key, buf.Bytes()); err != nil {
			return fmt.Errorf("archive batch: %w", err)
		}
	}
	return nil
}

// ArchiveKey names the object holding a batch that starts with first.
func ArchiveKey(prefix string, first contracts.Event) string {
	session := first.SessionID
	if session == "" {
		session = "unknown"
	}
	return fmt.Sprintf("%s%s/%s-%s.jsonl", prefix, first.Timestamp.UTC().Format("2006/01/02"), session, uuid.NewString())
}

// ReadArchive decodes every event stored under prefix.
func ReadArchive(ctx context.Context, store archive.Store, prefix string) ([]contracts.Event, error) {
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var out []contracts.Event
	for _, key := range keys {
		data, err := store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		for dec.More() {
			var e contracts.Event
			if err := dec.Decode(&e); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
