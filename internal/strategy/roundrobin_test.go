package strategy_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/storage-balancer/internal/backend"
	"github.com/angeloszaimis/storage-balancer/internal/strategy"
)

var _ = Describe("Roundrobin", func() {
	var (
		strat    strategy.Strategy
		statuses []backend.Status
	)

	BeforeEach(func() {
		strat = strategy.NewRoundRobinStrategy()
		statuses = newStatuses(4)
	})

	Describe("SelectBackend", func() {
		Context("with all healthy backends", func() {
			It("should cycle through backends in pool order", func() {
				var ids []int
				for i := 0; i < 5; i++ {
					ids = append(ids, strat.SelectBackend(statuses).ID())
				}
				Expect(ids).To(Equal([]int{1, 2, 3, 4, 1}))
			})

			It("should return every backend exactly once per rotation", func() {
				_ = strat.SelectBackend(statuses)
				_ = strat.SelectBackend(statuses)

				seen := make(map[int]int)
				var order []int
				for i := 0; i < len(statuses); i++ {
					id := strat.SelectBackend(statuses).ID()
					seen[id]++
					order = append(order, id)
				}
				Expect(seen).To(HaveLen(4))
				for _, count := range seen {
					Expect(count).To(Equal(1))
				}
				Expect(order).To(Equal([]int{3, 4, 1, 2}))
			})

			It("should distribute load evenly", func() {
				counts := make(map[int]int)
				for i := 0; i < 400; i++ {
					counts[strat.SelectBackend(statuses).ID()]++
				}
				for id := 1; id <= 4; id++ {
					Expect(counts[id]).To(Equal(100))
				}
			})
		})

		Context("with one unhealthy backend", func() {
			BeforeEach(func() {
				statuses[2].Healthy = false
			})

			It("should never return the unhealthy backend", func() {
				for i := 0; i < 4*len(statuses); i++ {
					Expect(strat.SelectBackend(statuses).ID()).NotTo(Equal(3))
				}
			})

			It("should skip straight to the next healthy backend", func() {
				var ids []int
				for i := 0; i < 4; i++ {
					ids = append(ids, strat.SelectBackend(statuses).ID())
				}
				Expect(ids).To(Equal([]int{1, 2, 4, 1}))
			})
		})

		Context("with all backends unhealthy", func() {
			BeforeEach(func() {
				for i := range statuses {
					statuses[i].Healthy = false
				}
			})

			It("should still return a backend, advancing one slot per call", func() {
				var ids []int
				for i := 0; i < 5; i++ {
					selected := strat.SelectBackend(statuses)
					Expect(selected).NotTo(BeNil())
					ids = append(ids, selected.ID())
				}
				Expect(ids).To(Equal([]int{1, 2, 3, 4, 1}))
			})
		})

		Context("with empty backend list", func() {
			It("should return nil", func() {
				Expect(strat.SelectBackend([]backend.Status{})).To(BeNil())
			})
		})

		Context("with concurrent callers", func() {
			It("should hand out each cursor position once", func() {
				const callers = 8
				const perCaller = 100

				var (
					wg     sync.WaitGroup
					mutex  sync.Mutex
					counts = make(map[int]int)
				)
				wg.Add(callers)

				for c := 0; c < callers; c++ {
					go func() {
						defer wg.Done()
						for i := 0; i < perCaller; i++ {
							id := strat.SelectBackend(statuses).ID()
							mutex.Lock()
							counts[id]++
							mutex.Unlock()
						}
					}()
				}
				wg.Wait()

				for id := 1; id <= 4; id++ {
					Expect(counts[id]).To(Equal(callers * perCaller / 4))
				}
			})
		})
	})

	It("should report its name", func() {
		Expect(strat.Name()).To(Equal("Round Robin"))
	})
})

var _ = Describe("LeastResponse", func() {
	var (
		strat    strategy.Strategy
		statuses []backend.Status
	)

	BeforeEach(func() {
		strat = strategy.NewLeastResponseStrategy()
		statuses = newStatuses(4)
		for i := range statuses {
			statuses[i].AvgRTT = 100
		}
	})

	It("should select backend with lowest RTT average", func() {
		statuses[1].AvgRTT = 50

		selected := strat.SelectBackend(statuses)
		Expect(selected.ID()).To(Equal(2))
	})

	It("should ignore a faster but unhealthy backend", func() {
		statuses[0].AvgRTT = 5
		statuses[0].Healthy = false
		statuses[3].AvgRTT = 20

		Expect(strat.SelectBackend(statuses).ID()).To(Equal(4))
	})

	It("should break ties by pool order", func() {
		statuses[1].AvgRTT = 30
		statuses[3].AvgRTT = 30

		Expect(strat.SelectBackend(statuses).ID()).To(Equal(2))
	})

	It("should prefer unsampled healthy backends", func() {
		statuses[2].AvgRTT = 0

		Expect(strat.SelectBackend(statuses).ID()).To(Equal(3))
	})

	It("should fall back to the first backend when none is healthy", func() {
		for i := range statuses {
			statuses[i].Healthy = false
		}
		statuses[3].AvgRTT = 1

		Expect(strat.SelectBackend(statuses).ID()).To(Equal(1))
	})

	It("should return nil for empty backend list", func() {
		Expect(strat.SelectBackend([]backend.Status{})).To(BeNil())
	})

	It("should report its name", func() {
		Expect(strat.Name()).To(Equal("Least Response Time"))
	})
})

func newStatuses(n int) []backend.Status {
	statuses := make([]backend.Status, n)
	for i := range statuses {
		statuses[i] = backend.Status{
			Backend: backend.New(i+1, "127.0.0.1", 9001+i),
			Healthy: true,
		}
	}
	return statuses
}
