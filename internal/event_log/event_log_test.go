package event_log_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/zhangjyr/gocsv"
	"go.uber.org/mock/gomock"

	"github.com/scusemua/time-simulator/internal/clock"
	"github.com/scusemua/time-simulator/internal/domain"
	"github.com/scusemua/time-simulator/internal/event_log"
	"github.com/scusemua/time-simulator/internal/mock_domain"
)

type csvRow struct {
	Id               string `csv:"id"`
	Name             string `csv:"name"`
	Category         string `csv:"category"`
	VirtualTimestamp string `csv:"virtual_timestamp"`
	RealTimestamp    string `csv:"real_timestamp"`
	Data             string `csv:"data"`
}

var _ = Describe("EventLog Tests", func() {
	var (
		mockCtrl *gomock.Controller
		origin   time.Time
		vc       *clock.VirtualClock
		log      *event_log.EventLog
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		origin = time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)
		vc = clock.NewVirtualClock(origin)
		log = event_log.NewEventLog(vc)
	})

	It("Can be instantiated correctly", func() {
		Expect(log.Len()).To(Equal(0))
		Expect(log.Query("")).To(BeEmpty())
	})

	It("Will stamp events with the virtual and real time", func() {
		Expect(vc.Advance(time.Hour)).To(Succeed())

		before := time.Now()
		evt, err := log.Record("Something happened", "Custom", map[string]int{"answer": 42})
		Expect(err).To(BeNil())

		Expect(evt.Id).ToNot(BeEmpty())
		Expect(evt.Name).To(Equal("Something happened"))
		Expect(evt.Category).To(Equal("Custom"))
		Expect(evt.VirtualTimestamp).To(Equal(origin.Add(time.Hour)))
		Expect(evt.RealTimestamp).To(BeTemporally(">=", before))
		Expect(evt.Data).To(Equal(map[string]int{"answer": 42}))

		fetched, ok := log.Get(evt.Id)
		Expect(ok).To(BeTrue())
		Expect(fetched.Id).To(Equal(evt.Id))
		Expect(fetched.Name).To(Equal(evt.Name))
	})

	It("Will use the virtual time reported by the time provider", func() {
		provider := mock_domain.NewMockTimeProvider(mockCtrl)
		virtual := time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
		provider.EXPECT().UtcNow().Return(virtual).Times(1)

		evt, err := event_log.NewEventLog(provider).Record("Mocked", "", nil)
		Expect(err).To(BeNil())
		Expect(evt.VirtualTimestamp).To(Equal(virtual))
	})

	It("Will default the category to General", func() {
		evt, err := log.Record("No category", "", nil)
		Expect(err).To(BeNil())
		Expect(evt.Category).To(Equal(domain.CategoryGeneral))
	})

	It("Will reject events without a name", func() {
		_, err := log.Record("", domain.CategoryGeneral, nil)
		Expect(errors.Is(err, domain.ErrInvalidArgument)).To(BeTrue())
		Expect(log.Len()).To(Equal(0))
	})

	It("Will not find events that do not exist", func() {
		_, ok := log.Get("does-not-exist")
		Expect(ok).To(BeFalse())
	})

	Context("Querying", func() {
		BeforeEach(func() {
			for i := 0; i < 6; i++ {
				category := "Even"
				if i%2 == 1 {
					category = "Odd"
				}

				_, err := log.Record(fmt.Sprintf("Event %d", i), category, i)
				Expect(err).To(BeNil())
				Expect(vc.Advance(time.Hour)).To(Succeed())
			}
		})

		It("Will filter by category, preserving insertion order", func() {
			odd := log.Query("Odd")
			Expect(odd).To(HaveLen(3))
			Expect(odd[0].Name).To(Equal("Event 1"))
			Expect(odd[1].Name).To(Equal("Event 3"))
			Expect(odd[2].Name).To(Equal("Event 5"))

			Expect(log.Query("Missing")).To(BeEmpty())
			Expect(log.Query("")).To(HaveLen(6))
		})

		It("Will treat the time range as a closed interval", func() {
			inRange := log.QueryRange(origin.Add(time.Hour), origin.Add(3*time.Hour))
			Expect(inRange).To(HaveLen(3))
			Expect(inRange[0].Name).To(Equal("Event 1"))
			Expect(inRange[2].Name).To(Equal("Event 3"))

			single := log.QueryRange(origin.Add(2*time.Hour), origin.Add(2*time.Hour))
			Expect(single).To(HaveLen(1))
			Expect(single[0].Name).To(Equal("Event 2"))
		})

		It("Will return nothing when the range is inverted", func() {
			Expect(log.QueryRange(origin.Add(3*time.Hour), origin.Add(time.Hour))).To(BeEmpty())
		})

		It("Will return snapshots that are unaffected by later writes", func() {
			snapshot := log.Query("")
			_, err := log.Record("Later", "", nil)
			Expect(err).To(BeNil())

			Expect(snapshot).To(HaveLen(6))
			Expect(log.Len()).To(Equal(7))
		})

		It("Will remove every event when cleared", func() {
			first := log.Query("")[0]
			log.Clear()

			Expect(log.Len()).To(Equal(0))
			_, ok := log.Get(first.Id)
			Expect(ok).To(BeFalse())
		})
	})

	It("Will record concurrently without losing events", func() {
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer GinkgoRecover()
				defer wg.Done()

				for i := 0; i < 100; i++ {
					_, err := log.Record(fmt.Sprintf("g%d-%d", g, i), "", nil)
					Expect(err).To(BeNil())
					_ = log.Query("")
				}
			}(g)
		}
		wg.Wait()

		events := log.Query("")
		Expect(events).To(HaveLen(800))

		ids := make(map[string]struct{}, len(events))
		for i, evt := range events {
			ids[evt.Id] = struct{}{}

			if i > 0 {
				Expect(evt.RealTimestamp.Before(events[i-1].RealTimestamp)).To(BeFalse())
			}
		}
		Expect(ids).To(HaveLen(800))
	})

	It("Will export every event to a CSV file", func() {
		_, err := log.Record("First", domain.CategorySimulation, nil)
		Expect(err).To(BeNil())
		Expect(vc.Advance(time.Minute)).To(Succeed())
		_, err = log.Record("Second", domain.CategoryError, domain.ComponentErrorPayload{ComponentType: "Cache", Message: "oops"})
		Expect(err).To(BeNil())

		path := filepath.Join(GinkgoT().TempDir(), "events.csv")
		Expect(log.ExportCSV(path)).To(Succeed())

		file, err := os.Open(path)
		Expect(err).To(BeNil())
		defer file.Close()

		var rows []*csvRow
		Expect(gocsv.UnmarshalFile(file, &rows)).To(Succeed())
		Expect(rows).To(HaveLen(2))

		Expect(rows[0].Name).To(Equal("First"))
		Expect(rows[0].Data).To(BeEmpty())
		Expect(rows[0].VirtualTimestamp).To(Equal(origin.Format(time.RFC3339Nano)))

		Expect(rows[1].Category).To(Equal(domain.CategoryError))
		Expect(rows[1].Data).To(MatchJSON(`{"component_type":"Cache","registration_id":"","message":"oops"}`))
	})
})
