package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/scusemua/time-simulator/internal/domain"
)

const (
	NoEventsMessage = "No events recorded."

	timestampLayout = "2006-01-02 15:04:05"
	ruleWidth       = 80
)

// EventSource is anything from which a snapshot of recorded events can be obtained.
// An empty category selects every event.
type EventSource interface {
	Query(category string) []domain.Event
}

// Entry is a single line of a timeline.
type Entry struct {
	Event   domain.Event
	Elapsed time.Duration // Virtual time elapsed since the first event of the timeline.
}

// TimelineView renders the events of an EventSource as a chronological report.
// It only ever reads from its source.
type TimelineView struct {
	source EventSource
}

func NewTimelineView(source EventSource) *TimelineView {
	return &TimelineView{source: source}
}

// Entries returns the events ordered by virtual timestamp. Events with equal timestamps keep their insertion order.
func (v *TimelineView) Entries() []Entry {
	events := v.source.Query("")
	if len(events) == 0 {
		return []Entry{}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].VirtualTimestamp.Before(events[j].VirtualTimestamp)
	})

	start := events[0].VirtualTimestamp
	entries := make([]Entry, 0, len(events))
	for _, evt := range events {
		entries = append(entries, Entry{
			Event:   evt,
			Elapsed: evt.VirtualTimestamp.Sub(start),
		})
	}

	return entries
}

// Render produces a human-readable timeline, or NoEventsMessage if there are no events.
func (v *TimelineView) Render() string {
	entries := v.Entries()
	if len(entries) == 0 {
		return NoEventsMessage
	}

	start := entries[0].Event.VirtualTimestamp
	end := entries[len(entries)-1].Event.VirtualTimestamp
	rule := strings.Repeat("-", ruleWidth)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Timeline (%s to %s)\n", start.Format(timestampLayout), end.Format(timestampLayout))
	fmt.Fprintf(&sb, "Total duration: %s\n", FormatDuration(end.Sub(start)))
	sb.WriteString(rule + "\n")
	fmt.Fprintf(&sb, "%-22s | %-14s | %-15s | %-30s\n", "Time", "Elapsed", "Category", "Event")
	sb.WriteString(rule + "\n")

	for _, entry := range entries {
		fmt.Fprintf(&sb, "%-22s | %-14s | %-15s | %-30s\n",
			entry.Event.VirtualTimestamp.Format(timestampLayout),
			FormatDuration(entry.Elapsed),
			entry.Event.Category,
			entry.Event.Name)
	}

	return sb.String()
}

// CategoryCounts returns the number of events recorded in each category.
func (v *TimelineView) CategoryCounts() map[string]int {
	counts := make(map[string]int)
	for _, evt := range v.source.Query("") {
		counts[evt.Category] += 1
	}

	return counts
}

// OrderedCategoryCounts returns the same counts as CategoryCounts, ordered by the first appearance of each category.
func (v *TimelineView) OrderedCategoryCounts() *orderedmap.OrderedMap[string, int] {
	counts := orderedmap.NewOrderedMap[string, int]()
	for _, evt := range v.source.Query("") {
		count, _ := counts.Get(evt.Category)
		counts.Set(evt.Category, count+1)
	}

	return counts
}

// FormatDuration renders a duration at a scale appropriate to its magnitude:
//
//	>= 1 day:    "2d 03:04:05"
//	>= 1 hour:   "03:04:05"
//	>= 1 minute: "04:05.67" (hundredths of a second)
//	otherwise:   "05.678s"
//
// Negative durations are rendered with a leading minus sign.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + FormatDuration(-d)
	}

	days := int64(d / (24 * time.Hour))
	hours := int64(d/time.Hour) % 24
	minutes := int64(d/time.Minute) % 60
	seconds := int64(d/time.Second) % 60
	millis := int64(d/time.Millisecond) % 1000

	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd %02d:%02d:%02d", days, hours, minutes, seconds)
	case d >= time.Hour:
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	case d >= time.Minute:
		return fmt.Sprintf("%02d:%02d.%02d", minutes, seconds, millis/10)
	default:
		return fmt.Sprintf("%02d.%03ds", seconds, millis)
	}
}
