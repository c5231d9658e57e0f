package cache_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dualcache/timing/backing"
	"github.com/sarchlab/dualcache/timing/cache"
	"github.com/sarchlab/dualcache/timing/cdc"
)

func TestCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cache Suite")
}

// testConfig is a deliberately tiny geometry: 8B lines, 2-way, 4 bins,
// over a 256B store, so replacement happens within a handful of accesses.
func testConfig() cache.Config {
	return cache.Config{
		LineSize:       8,
		LineCount:      8,
		Associativity:  2,
		WordSize:       4,
		BankLatency:    2,
		StoreLatency:   2,
		StoreWordSize:  4,
		StoreWordCount: 64,
		BurstAmount:    2,
		SyncDepth:      1,
		QueueCapacity:  8,
		MaxStall:       16,
	}
}

// harness ticks the controller and the store in lockstep, one tick each.
type harness struct {
	cfg   cache.Config
	ctrl  *cache.Controller
	store *backing.Store
}

func newHarness(cfg cache.Config) *harness {
	down, err := cdc.NewQueue(cfg.QueueCapacity, cfg.SyncDepth)
	Expect(err).NotTo(HaveOccurred())
	up, err := cdc.NewQueue(cfg.QueueCapacity, cfg.SyncDepth)
	Expect(err).NotTo(HaveOccurred())

	store, err := backing.NewStore(backing.Config{
		WordSize:  cfg.StoreWordSize,
		WordCount: cfg.StoreWordCount,
		Latency:   cfg.StoreLatency,
	}, down, up)
	Expect(err).NotTo(HaveOccurred())

	ctrl, err := cache.New(cfg, down, up)
	Expect(err).NotTo(HaveOccurred())

	return &harness{cfg: cfg, ctrl: ctrl, store: store}
}

func (h *harness) tick() {
	h.ctrl.Tick()
	h.store.Tick()
}

func (h *harness) settle(n int) {
	for i := 0; i < n; i++ {
		h.tick()
	}
}

// do re-issues the request every tick until the port answers, per the
// hold-or-reissue contract, and returns the answer with the tick count.
func (h *harness) do(p cache.PortID, req cache.Request) (cache.Response, int) {
	for i := 1; i <= 500; i++ {
		h.ctrl.Submit(p, req)
		h.tick()
		if rsp := h.ctrl.Response(p); rsp.Status != cache.StatusWait {
			return rsp, i
		}
	}
	Fail("request was not serviced in 500 ticks")
	return cache.Response{}, 0
}

// doBoth drives one request per port concurrently until both answer.
func (h *harness) doBoth(reqA, reqB cache.Request) (cache.Response, cache.Response) {
	var ra, rb cache.Response
	doneA, doneB := false, false

	for i := 0; i < 500 && !(doneA && doneB); i++ {
		if !doneA {
			h.ctrl.Submit(cache.PortA, reqA)
		}
		if !doneB {
			h.ctrl.Submit(cache.PortB, reqB)
		}
		h.tick()
		if !doneA {
			if r := h.ctrl.Response(cache.PortA); r.Status != cache.StatusWait {
				ra, doneA = r, true
			}
		}
		if !doneB {
			if r := h.ctrl.Response(cache.PortB); r.Status != cache.StatusWait {
				rb, doneB = r, true
			}
		}
	}
	Expect(doneA).To(BeTrue())
	Expect(doneB).To(BeTrue())
	return ra, rb
}

func (h *harness) read(p cache.PortID, addr uint64) (cache.Response, int) {
	return h.do(p, cache.Request{Address: addr, Read: true})
}

func (h *harness) write(p cache.PortID, addr uint64, data []byte) (cache.Response, int) {
	return h.do(p, cache.Request{Address: addr, Write: true, Data: data})
}

func word(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

var _ = Describe("Controller", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness(testConfig())
	})

	Describe("construction", func() {
		It("should reject an invalid configuration", func() {
			cfg := testConfig()
			cfg.BurstAmount = 3
			_, err := cache.New(cfg, nil, nil)
			Expect(err).To(HaveOccurred())
		})

		It("should reject missing queues", func() {
			_, err := cache.New(testConfig(), nil, nil)
			Expect(err).To(HaveOccurred())
		})

		It("should reject an address space that is not line-aligned", func() {
			// 65 four-byte words give a 260-byte space over 8-byte lines;
			// a refill of the last line would run past the store.
			cfg := testConfig()
			cfg.StoreWordCount = 65
			_, err := cache.New(cfg, nil, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("reset", func() {
		It("should answer WAIT before the first tick", func() {
			Expect(h.ctrl.Response(cache.PortA).Status).To(Equal(cache.StatusWait))
			Expect(h.ctrl.Response(cache.PortB).Status).To(Equal(cache.StatusWait))
		})

		It("should serve again after a port reset", func() {
			h.store.WriteWord(0, 0x1234)
			rsp, _ := h.read(cache.PortA, 0)
			Expect(rsp.Status).To(Equal(cache.StatusReady))

			h.ctrl.ResetPort(cache.PortA)
			Expect(h.ctrl.Response(cache.PortA).Status).To(Equal(cache.StatusWait))

			rsp, _ = h.read(cache.PortA, 0)
			Expect(rsp.Status).To(Equal(cache.StatusReady))
			Expect(rsp.Data).To(Equal(word(0x1234)))
		})
	})

	Describe("reads", func() {
		It("should fetch a cold word from the store", func() {
			h.store.WriteWord(16, 0xDEADBEEF)

			rsp, _ := h.read(cache.PortA, 16)
			Expect(rsp.Status).To(Equal(cache.StatusReady))
			Expect(rsp.Data).To(Equal(word(0xDEADBEEF)))

			stats := h.ctrl.Stats()
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Refills).To(Equal(uint64(1)))
			Expect(stats.Hits).To(Equal(uint64(0)))
		})

		It("should hit on a resident word, faster than the miss", func() {
			h.store.WriteWord(16, 0xCAFEBABE)

			_, missTicks := h.read(cache.PortA, 16)
			rsp, hitTicks := h.read(cache.PortA, 16)

			Expect(rsp.Status).To(Equal(cache.StatusReady))
			Expect(rsp.Data).To(Equal(word(0xCAFEBABE)))
			Expect(hitTicks).To(BeNumerically("<", missTicks))
			Expect(h.ctrl.Stats().Hits).To(Equal(uint64(1)))
		})

		It("should serve the last word of the address space", func() {
			last := h.cfg.AddressSpace() - uint64(h.cfg.WordSize)
			h.store.WriteWord(last, 0x99)

			rsp, _ := h.read(cache.PortA, last)
			Expect(rsp.Status).To(Equal(cache.StatusReady))
			Expect(rsp.Data).To(Equal(word(0x99)))
		})

		It("should hit on the other word of a fetched line", func() {
			h.store.WriteWord(16, 1)
			h.store.WriteWord(20, 2)

			h.read(cache.PortA, 16)
			rsp, _ := h.read(cache.PortA, 20)

			Expect(rsp.Data).To(Equal(word(2)))
			Expect(h.ctrl.Stats().Misses).To(Equal(uint64(1)))
		})
	})

	Describe("writes", func() {
		It("should return written data on a later read", func() {
			h.write(cache.PortA, 8, word(0x11223344))

			rsp, _ := h.read(cache.PortA, 8)
			Expect(rsp.Data).To(Equal(word(0x11223344)))
		})

		It("should make one port's write visible to the other port", func() {
			h.write(cache.PortA, 8, word(0xA5A5A5A5))

			rsp, _ := h.read(cache.PortB, 8)
			Expect(rsp.Data).To(Equal(word(0xA5A5A5A5)))
		})

		It("should honor a byte mask on a resident line", func() {
			h.write(cache.PortA, 8, word(0x44332211))

			rsp, _ := h.do(cache.PortA, cache.Request{
				Address: 8,
				Write:   true,
				Data:    word(0xFFEEDDCC),
				Mask:    []bool{true, false, false, true},
			})
			Expect(rsp.Status).To(Equal(cache.StatusReady))

			rsp, _ = h.read(cache.PortA, 8)
			Expect(rsp.Data).To(Equal([]byte{0xCC, 0x22, 0x33, 0xFF}))
		})

		It("should honor a byte mask on a write to a cold address", func() {
			h.store.WriteWord(40, 0x44332211)

			rsp, _ := h.do(cache.PortA, cache.Request{
				Address: 40,
				Write:   true,
				Data:    word(0xFFEEDDCC),
				Mask:    []bool{true, false, false, true},
			})
			Expect(rsp.Status).To(Equal(cache.StatusReady))

			rsp, _ = h.read(cache.PortA, 40)
			Expect(rsp.Data).To(Equal([]byte{0xCC, 0x22, 0x33, 0xFF}))
		})

		It("should mark the line dirty, not write through", func() {
			h.write(cache.PortA, 8, word(1))
			Expect(h.ctrl.HasDirty()).To(BeTrue())
			Expect(h.store.ReadWord(8)).To(Equal(uint64(0)))
		})
	})

	Describe("eviction", func() {
		// Addresses 0, 32, and 64 all map to bin 0 in the test geometry.
		It("should write a dirty victim back before the refill", func() {
			h.write(cache.PortA, 0, word(0xD1D1D1D1))

			h.read(cache.PortA, 32)
			h.read(cache.PortA, 64)

			Expect(h.store.ReadWord(0)).To(Equal(uint64(0xD1D1D1D1)))
			stats := h.ctrl.Stats()
			Expect(stats.Evictions).To(BeNumerically(">=", 1))
			Expect(stats.Writebacks).To(BeNumerically(">=", 1))
		})

		It("should evict the least recently used line", func() {
			h.read(cache.PortA, 0)
			h.read(cache.PortA, 32)

			// Touch 0 so 32 becomes the replacement candidate.
			h.read(cache.PortA, 0)
			h.read(cache.PortA, 64)

			missesBefore := h.ctrl.Stats().Misses
			h.read(cache.PortA, 0)
			Expect(h.ctrl.Stats().Misses).To(Equal(missesBefore))
		})

		It("should not lose data across repeated evictions", func() {
			addrs := []uint64{0, 32, 64, 96, 128, 160, 192, 224}
			for i, addr := range addrs {
				h.write(cache.PortA, addr, word(uint32(i+1)))
			}
			for i, addr := range addrs {
				rsp, _ := h.read(cache.PortB, addr)
				Expect(rsp.Data).To(Equal(word(uint32(i + 1))))
			}
		})
	})

	Describe("request validation", func() {
		It("should reject an out-of-bounds address", func() {
			rsp, _ := h.read(cache.PortA, h.cfg.AddressSpace())
			Expect(rsp.Status).To(Equal(cache.StatusErrOutOfBounds))
		})

		It("should reject a misaligned address", func() {
			rsp, _ := h.read(cache.PortA, 2)
			Expect(rsp.Status).To(Equal(cache.StatusErrMisaligned))
		})

		It("should not count rejected requests", func() {
			h.read(cache.PortA, 2)
			Expect(h.ctrl.Stats().Reads).To(Equal(uint64(0)))
		})

		It("should keep serving after an error", func() {
			h.read(cache.PortA, 2)
			rsp, _ := h.read(cache.PortA, 0)
			Expect(rsp.Status).To(Equal(cache.StatusReady))
		})
	})

	Describe("access regions", func() {
		BeforeEach(func() {
			cfg := testConfig()
			cfg.Regions = []cache.Region{
				{Start: 0, End: 32, Mode: cache.AccessReadOnly},
				{Start: 32, End: 64, Mode: cache.AccessWriteOnly},
			}
			h = newHarness(cfg)
		})

		It("should reject a write into a read-only region", func() {
			rsp, _ := h.write(cache.PortA, 8, word(1))
			Expect(rsp.Status).To(Equal(cache.StatusErrReadOnly))
		})

		It("should reject a read from a write-only region", func() {
			rsp, _ := h.read(cache.PortA, 36)
			Expect(rsp.Status).To(Equal(cache.StatusErrWriteOnly))
		})

		It("should allow the permitted operation in each region", func() {
			rsp, _ := h.read(cache.PortA, 8)
			Expect(rsp.Status).To(Equal(cache.StatusReady))

			rsp, _ = h.write(cache.PortA, 36, word(1))
			Expect(rsp.Status).To(Equal(cache.StatusReady))

			rsp, _ = h.read(cache.PortA, 64)
			Expect(rsp.Status).To(Equal(cache.StatusReady))
		})
	})

	Describe("dual-port conflicts", func() {
		BeforeEach(func() {
			// Warm both ports past reset and make address 8 resident.
			h.store.WriteWord(8, 0x0101)
			h.read(cache.PortA, 8)
			h.read(cache.PortB, 8)
		})

		It("should fail both ports on a same-tick same-address write", func() {
			req := cache.Request{Address: 8, Write: true, Data: word(0xFF)}
			h.ctrl.Submit(cache.PortA, req)
			h.ctrl.Submit(cache.PortB, req)
			h.tick()

			Expect(h.ctrl.Response(cache.PortA).Status).
				To(Equal(cache.StatusErrDualWrite))
			Expect(h.ctrl.Response(cache.PortB).Status).
				To(Equal(cache.StatusErrDualWrite))
			Expect(h.ctrl.Stats().DualWriteConflicts).To(Equal(uint64(1)))

			// Neither write took effect.
			rsp, _ := h.read(cache.PortA, 8)
			Expect(rsp.Data).To(Equal(word(0x0101)))
		})

		It("should serve same-tick writes to different addresses", func() {
			ra, rb := h.doBoth(
				cache.Request{Address: 8, Write: true, Data: word(1)},
				cache.Request{Address: 12, Write: true, Data: word(2)},
			)
			Expect(ra.Status).To(Equal(cache.StatusReady))
			Expect(rb.Status).To(Equal(cache.StatusReady))

			rsp, _ := h.read(cache.PortA, 8)
			Expect(rsp.Data).To(Equal(word(1)))
			rsp, _ = h.read(cache.PortB, 12)
			Expect(rsp.Data).To(Equal(word(2)))
		})

		It("should give a same-tick reader the pre-write value", func() {
			ra, rb := h.doBoth(
				cache.Request{Address: 8, Read: true},
				cache.Request{Address: 8, Write: true, Data: word(0xBEEF)},
			)
			Expect(ra.Status).To(Equal(cache.StatusReady))
			Expect(ra.Data).To(Equal(word(0x0101)))
			Expect(rb.Status).To(Equal(cache.StatusReady))

			rsp, _ := h.read(cache.PortA, 8)
			Expect(rsp.Data).To(Equal(word(0xBEEF)))
		})

		It("should let both ports make progress under miss contention", func() {
			for i := 0; i < 8; i++ {
				addrA := uint64(i) * 8 % h.cfg.AddressSpace()
				addrB := (uint64(i)*8 + 128) % h.cfg.AddressSpace()
				ra, rb := h.doBoth(
					cache.Request{Address: addrA, Read: true},
					cache.Request{Address: addrB, Read: true},
				)
				Expect(ra.Status).To(Equal(cache.StatusReady))
				Expect(rb.Status).To(Equal(cache.StatusReady))
			}
		})
	})

	Describe("stall ceiling", func() {
		It("should serve a waiting port despite a stream of conflicting misses", func() {
			cfg := testConfig()
			cfg.MaxStall = 4
			h = newHarness(cfg)

			// Port B misses a fresh bin-0 line every time it is served,
			// keeping the bin contended while port A waits for its word.
			hot := []uint64{32, 64, 96, 128, 160, 192, 224}
			j := 0
			served := 0

			// Let port B take the first grant so port A queues behind it.
			for i := 0; i < 3; i++ {
				h.ctrl.Submit(cache.PortB, cache.Request{Address: hot[0], Read: true})
				h.tick()
			}

			for i := 1; i <= 400; i++ {
				h.ctrl.Submit(cache.PortA, cache.Request{Address: 0, Read: true})
				h.ctrl.Submit(cache.PortB, cache.Request{Address: hot[j], Read: true})
				h.tick()

				if h.ctrl.Response(cache.PortB).Status == cache.StatusReady {
					j = (j + 1) % len(hot)
				}
				if h.ctrl.Response(cache.PortA).Status == cache.StatusReady {
					served = i
					break
				}
			}

			Expect(served).To(BeNumerically(">", 0))
			Expect(served).To(BeNumerically("<=", 400))
		})
	})
})
