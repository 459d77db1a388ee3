package db

import (
	"context"
	"fmt"
	"time"

	"github.com/morezero/plugin-host/pkg/events"
)

const publisherLogPrefix = "db:journal_publisher"

// EntryRecorder stores journal entries. *Journal implements it.
type EntryRecorder interface {
	Record(ctx context.Context, entry JournalEntry) (*JournalEntry, error)
}

// JournalPublisher implements events.EventPublisher by recording each change
// in the journal.
type JournalPublisher struct {
	recorder EntryRecorder
	host     string
}

// NewJournalPublisherParams holds parameters for NewJournalPublisher.
type NewJournalPublisherParams struct {
	Recorder EntryRecorder
	// Host names the process that made the change.
	Host string
}

// NewJournalPublisher creates a new JournalPublisher.
func NewJournalPublisher(params NewJournalPublisherParams) *JournalPublisher {
	return &JournalPublisher{recorder: params.Recorder, host: params.Host}
}

// PublishChanged implements events.EventPublisher.
func (p *JournalPublisher) PublishChanged(ctx context.Context, event *events.ServiceChangedEvent) error {
	entry := EntryFromEvent(event)
	entry.Host = p.host
	if _, err := p.recorder.Record(ctx, entry); err != nil {
		return fmt.Errorf("%s - failed to journal %s %s: %w", publisherLogPrefix, event.Action, event.ServiceID, err)
	}
	return nil
}

// EntryFromEvent converts a change event. An unparsable timestamp is left
// zero so Record stamps the current time.
func EntryFromEvent(event *events.ServiceChangedEvent) JournalEntry {
	entry := JournalEntry{
		Action:    event.Action,
		ServiceID: event.ServiceID,
		Version:   event.Version,
		Module:    event.Module,
		Methods:   append([]string(nil), event.Methods...),
		Services:  event.Services,
	}
	if ts, err := time.Parse(time.RFC3339Nano, event.Timestamp); err == nil {
		entry.OccurredAt = ts.UTC()
	}
	return entry
}
