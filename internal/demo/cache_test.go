package demo_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/time-simulator/internal/clock"
	"github.com/scusemua/time-simulator/internal/demo"
	"github.com/scusemua/time-simulator/internal/event_log"
)

var _ = Describe("TemporalCache Tests", func() {
	var (
		virtualClock *clock.VirtualClock
		eventLog     *event_log.EventLog
		cache        *demo.TemporalCache
	)

	advance := func(d time.Duration) {
		now, err := virtualClock.IncrementClockBy(d)
		Expect(err).To(BeNil())
		Expect(cache.OnTimeAdvanced(now, d)).To(Succeed())
	}

	BeforeEach(func() {
		virtualClock = clock.NewVirtualClock(epoch)
		eventLog = event_log.NewEventLog(virtualClock)
		cache = demo.NewTemporalCache(virtualClock, 2*time.Hour, &atom)
		cache.SetEventRecorder(eventLog)
	})

	It("Will return the expiration time of new entries", func() {
		Expect(cache.Set("user:123", "John Doe")).To(Equal(epoch.Add(2 * time.Hour)))
		Expect(cache.Set("settings", "dark-mode", 24*time.Hour)).To(Equal(epoch.Add(24 * time.Hour)))
		Expect(cache.Len()).To(Equal(2))
	})

	It("Will return entries until they expire", func() {
		cache.Set("user:123", "John Doe")

		advance(time.Hour)
		value, ok := cache.TryGet("user:123")
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal("John Doe"))

		advance(59 * time.Minute)
		_, ok = cache.TryGet("user:123")
		Expect(ok).To(BeTrue())
		Expect(cache.Len()).To(Equal(1))

		advance(time.Minute)
		_, ok = cache.TryGet("user:123")
		Expect(ok).To(BeFalse())
		Expect(cache.Len()).To(Equal(0))
	})

	It("Will not return expired entries that have not been evicted yet", func() {
		cache.Set("user:123", "John Doe")

		_, err := virtualClock.IncrementClockBy(3 * time.Hour)
		Expect(err).To(BeNil())

		_, ok := cache.TryGet("user:123")
		Expect(ok).To(BeFalse())
		Expect(cache.Len()).To(Equal(1))
	})

	It("Will record an event for each expired entry", func() {
		cache.Set("user:123", "John Doe")
		cache.Set("settings", "dark-mode", 24*time.Hour)

		advance(3 * time.Hour)

		events := eventLog.Query(demo.CategoryCache)
		Expect(len(events)).To(Equal(1))
		Expect(events[0].Name).To(Equal("Cache entry expired: user:123"))
		Expect(events[0].VirtualTimestamp).To(Equal(epoch.Add(3 * time.Hour)))

		_, ok := cache.TryGet("settings")
		Expect(ok).To(BeTrue())
	})

	It("Will not evict an entry that was refreshed", func() {
		cache.Set("user:123", "John Doe")

		advance(90 * time.Minute)
		cache.Set("user:123", "Jane Doe")

		advance(time.Hour)
		value, ok := cache.TryGet("user:123")
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal("Jane Doe"))
		Expect(eventLog.Query(demo.CategoryCache)).To(BeEmpty())
	})
})
