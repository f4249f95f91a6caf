package domain_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/time-simulator/internal/domain"
)

var _ = Describe("Event Tests", func() {
	virtualTime := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	It("Will format as JSON", func() {
		evt := domain.Event{
			Id:               "abc",
			Name:             "Simulation started",
			Category:         domain.CategorySimulation,
			VirtualTimestamp: virtualTime,
			RealTimestamp:    time.Now(),
			Data:             map[string]interface{}{"num_steps": 3},
		}

		Expect(evt.String()).To(ContainSubstring(`"name":"Simulation started"`))
		Expect(evt.String()).To(ContainSubstring(`"num_steps":3`))
	})

	It("Will format events whose payload cannot be serialized", func() {
		evt := domain.Event{
			Id:               "abc",
			Name:             "Opaque",
			Category:         domain.CategoryGeneral,
			VirtualTimestamp: virtualTime,
			Data:             make(chan int),
		}

		var out string
		Expect(func() { out = evt.String() }).ToNot(Panic())
		Expect(out).To(ContainSubstring("name=Opaque"))
		Expect(out).To(ContainSubstring("category=General"))
	})
})
