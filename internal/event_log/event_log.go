package event_log

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/zhangjyr/gocsv"
	"github.com/zhangjyr/hashmap"

	"github.com/scusemua/time-simulator/internal/domain"
)

// EventLog is an append-only, thread-safe record of simulation events.
//
// Each event is stamped with the current virtual time (as reported by the log's TimeProvider) and the
// wall-clock time at which it was recorded. Reads return snapshots and never observe a partially-recorded event.
type EventLog struct {
	mu           sync.RWMutex
	timeProvider domain.TimeProvider
	events       []domain.Event
	eventsById   *hashmap.HashMap // Mapping from event ID to the index of the event within `events`.
}

func NewEventLog(timeProvider domain.TimeProvider) *EventLog {
	return &EventLog{
		timeProvider: timeProvider,
		events:       make([]domain.Event, 0, 64),
		eventsById:   hashmap.New(64),
	}
}

// Record appends a new event and returns it.
//
// The name must be non-empty. An empty category defaults to domain.CategoryGeneral.
// The data payload is optional and is stored as-is.
func (l *EventLog) Record(name string, category string, data interface{}) (domain.Event, error) {
	if name == "" {
		return domain.Event{}, fmt.Errorf("%w: event name must be non-empty", domain.ErrInvalidArgument)
	}

	if category == "" {
		category = domain.CategoryGeneral
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Both timestamps are taken while holding the lock so that real timestamps never decrease in insertion order.
	evt := domain.Event{
		Id:               uuid.NewString(),
		Name:             name,
		Category:         category,
		VirtualTimestamp: l.timeProvider.UtcNow(),
		RealTimestamp:    time.Now().UTC(),
		Data:             data,
	}

	l.events = append(l.events, evt)
	l.eventsById.Set(evt.Id, len(l.events)-1)

	return evt, nil
}

// Query returns every event of the given category, in insertion order.
// If category is empty, every event is returned.
func (l *EventLog) Query(category string) []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if category == "" {
		snapshot := make([]domain.Event, len(l.events))
		copy(snapshot, l.events)
		return snapshot
	}

	matching := make([]domain.Event, 0)
	for _, evt := range l.events {
		if evt.Category == category {
			matching = append(matching, evt)
		}
	}

	return matching
}

// QueryRange returns every event whose virtual timestamp lies within the closed interval [start, end],
// in insertion order. If start is after end, the result is empty.
func (l *EventLog) QueryRange(start time.Time, end time.Time) []domain.Event {
	matching := make([]domain.Event, 0)
	if start.After(end) {
		return matching
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, evt := range l.events {
		if !evt.VirtualTimestamp.Before(start) && !evt.VirtualTimestamp.After(end) {
			matching = append(matching, evt)
		}
	}

	return matching
}

// Get returns the event with the given ID, if there is one.
func (l *EventLog) Get(id string) (domain.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	val, ok := l.eventsById.Get(id)
	if !ok {
		return domain.Event{}, false
	}

	return l.events[val.(int)], true
}

// Len returns the number of events currently in the log.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.events)
}

// Clear removes every event from the log.
func (l *EventLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = make([]domain.Event, 0, 64)
	l.eventsById = hashmap.New(64)
}

// eventRecord is the CSV representation of a domain.Event.
type eventRecord struct {
	Id               string `csv:"id"`
	Name             string `csv:"name"`
	Category         string `csv:"category"`
	VirtualTimestamp string `csv:"virtual_timestamp"`
	RealTimestamp    string `csv:"real_timestamp"`
	Data             string `csv:"data"`
}

func newEventRecord(evt domain.Event) (*eventRecord, error) {
	record := &eventRecord{
		Id:               evt.Id,
		Name:             evt.Name,
		Category:         evt.Category,
		VirtualTimestamp: evt.VirtualTimestamp.Format(time.RFC3339Nano),
		RealTimestamp:    evt.RealTimestamp.Format(time.RFC3339Nano),
	}

	if evt.Data != nil {
		data, err := json.Marshal(evt.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload of event %s: %w", evt.Id, err)
		}
		record.Data = string(data)
	}

	return record, nil
}

// ExportCSV writes a snapshot of the log to the file at the given path, creating or truncating it.
func (l *EventLog) ExportCSV(path string) error {
	events := l.Query("")

	records := make([]*eventRecord, 0, len(events))
	for _, evt := range events {
		record, err := newEventRecord(evt)
		if err != nil {
			return err
		}
		records = append(records, record)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, os.ModePerm)
	if err != nil {
		return err
	}
	defer file.Close()

	return gocsv.MarshalFile(&records, file)
}
