package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dualcache/timing/cache"
)

var _ = Describe("Coherence", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness(testConfig())
	})

	// syncDone ticks until no dirty line remains.
	syncDone := func() {
		for i := 0; i < 500; i++ {
			h.tick()
			if !h.ctrl.HasDirty() {
				return
			}
		}
		Fail("dirty lines remain after 500 ticks")
	}

	Describe("Sync", func() {
		It("should write a dirty line to the store and keep it resident", func() {
			h.write(cache.PortA, 8, word(0xD00D))

			h.ctrl.Sync(8)
			syncDone()

			Expect(h.store.ReadWord(8)).To(Equal(uint64(0xD00D)))

			missesBefore := h.ctrl.Stats().Misses
			rsp, _ := h.read(cache.PortA, 8)
			Expect(rsp.Data).To(Equal(word(0xD00D)))
			Expect(h.ctrl.Stats().Misses).To(Equal(missesBefore))
		})

		It("should do nothing for a clean or absent line", func() {
			h.store.WriteWord(8, 5)
			h.read(cache.PortA, 8)

			h.ctrl.Sync(8)
			h.ctrl.Sync(128)
			h.settle(20)

			Expect(h.ctrl.Stats().Writebacks).To(Equal(uint64(0)))
			Expect(h.ctrl.Stats().Syncs).To(Equal(uint64(0)))
		})
	})

	Describe("SyncAll", func() {
		It("should write every dirty line back", func() {
			addrs := []uint64{0, 8, 48, 120}
			for i, addr := range addrs {
				h.write(cache.PortA, addr, word(uint32(0x100+i)))
			}

			h.ctrl.SyncAll()
			syncDone()

			for i, addr := range addrs {
				Expect(h.store.ReadWord(addr)).To(Equal(uint64(0x100 + i)))
			}
			Expect(h.ctrl.Stats().Syncs).To(Equal(uint64(len(addrs))))
		})

		It("should leave the lines resident and clean", func() {
			h.write(cache.PortA, 8, word(7))
			h.ctrl.SyncAll()
			syncDone()

			missesBefore := h.ctrl.Stats().Misses
			rsp, _ := h.read(cache.PortB, 8)
			Expect(rsp.Data).To(Equal(word(7)))
			Expect(h.ctrl.Stats().Misses).To(Equal(missesBefore))
			Expect(h.ctrl.HasDirty()).To(BeFalse())
		})
	})

	Describe("Invalidate", func() {
		It("should drop a dirty line without writing it back", func() {
			h.store.WriteWord(8, 0xAAAA)
			h.write(cache.PortA, 8, word(0xBBBB))

			h.ctrl.Invalidate(8)
			h.settle(20)

			Expect(h.store.ReadWord(8)).To(Equal(uint64(0xAAAA)))

			rsp, _ := h.read(cache.PortA, 8)
			Expect(rsp.Data).To(Equal(word(0xAAAA)))
			Expect(h.ctrl.Stats().Invalidations).To(Equal(uint64(1)))
		})

		It("should ignore an address that is not resident", func() {
			h.read(cache.PortA, 8)
			h.ctrl.Invalidate(64)
			h.settle(20)

			Expect(h.ctrl.Stats().Invalidations).To(Equal(uint64(0)))
		})
	})

	Describe("InvalidateAll", func() {
		It("should drop every resident line", func() {
			h.read(cache.PortA, 0)
			h.read(cache.PortA, 8)
			h.read(cache.PortB, 48)

			h.ctrl.InvalidateAll()
			h.settle(30)

			Expect(h.ctrl.Stats().Invalidations).To(Equal(uint64(3)))

			missesBefore := h.ctrl.Stats().Misses
			h.read(cache.PortA, 0)
			Expect(h.ctrl.Stats().Misses).To(Equal(missesBefore + 1))
		})
	})

	Describe("ordering against port traffic", func() {
		It("should run a sync issued during an in-flight miss afterward", func() {
			h.read(cache.PortB, 0)
			h.write(cache.PortA, 8, word(1))

			// Start a miss, then queue a sync while it is in flight; the
			// sync must still complete.
			h.ctrl.Submit(cache.PortB, cache.Request{Address: 64, Read: true})
			h.tick()
			h.ctrl.Sync(8)

			syncDone()
			Expect(h.store.ReadWord(8)).To(Equal(uint64(1)))
		})
	})
})
