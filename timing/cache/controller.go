// Package cache provides a tick-accurate model of a dual-ported,
// set-associative write-back cache controller.
//
// The controller serves two symmetric client ports against a dual-port
// storage bank, tracks line state in an associative tag directory, and
// services misses, evictions, and coherence commands through a backing
// store that lives in its own timing domain. All traffic to the store
// crosses a pair of cdc queues; the controller never reads the store
// domain's raw state.
package cache

import (
	"fmt"
	"log"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/dualcache/timing/bank"
	"github.com/sarchlab/dualcache/timing/cdc"
)

type portState int

const (
	portReset portState = iota
	portReady
	portWait
)

type pendingKind int

const (
	pendingNone pendingKind = iota
	pendingHitRead
	pendingHitWrite
	pendingMiss
)

type portCtx struct {
	state    portState
	incoming *Request
	pending  *Request
	kind     pendingKind
	block    *akitacache.Block

	// waitTicks counts consecutive ticks this port has answered WAIT with
	// work outstanding. Crossing the stall ceiling promotes the port in
	// the service order.
	waitTicks int

	// answered marks a port whose response for this tick was decided
	// before the port machine ran; the port machine must not touch it.
	answered bool

	resp Response
}

// Controller is the write-back cache controller.
type Controller struct {
	cfg Config

	directory *akitacache.DirectoryImpl
	bank      *bank.Bank
	engine    *engine

	down *cdc.Queue
	up   *cdc.Queue

	ports     [NumPorts]portCtx
	lastGrant PortID

	// binBusy marks bins with an outstanding backing-store transaction.
	// At most one transaction may touch a bin's lines at a time.
	binBusy map[int]bool

	stats Stats
}

// New creates a controller attached to its downbound and upbound store
// queues. Invalid configuration is a construction failure.
func New(cfg Config, down, up *cdc.Queue) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	if down == nil || up == nil {
		return nil, fmt.Errorf("cache controller requires both queues")
	}

	bk, err := bank.New(cfg.BankSize(), cfg.BankLatency)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg: cfg,
		directory: akitacache.NewDirectory(
			cfg.NumSets(),
			cfg.Associativity,
			cfg.LineSize,
			akitacache.NewLRUVictimFinder(),
		),
		bank:      bk,
		down:      down,
		up:        up,
		lastGrant: PortB,
		binBusy:   make(map[int]bool),
	}
	c.engine = newEngine(c)

	return c, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Stats returns the accumulated counters.
func (c *Controller) Stats() Stats {
	return c.stats
}

// ResetStats clears the counters.
func (c *Controller) ResetStats() {
	c.stats = Stats{}
}

// Submit presents a request on a port for the next Tick. Clients must hold
// or re-issue a request every tick until the port leaves StatusWait; a
// request submitted while the port is busy is ignored.
func (c *Controller) Submit(p PortID, req Request) {
	r := req
	c.ports[p].incoming = &r
}

// Response returns the port's answer as of the last Tick.
func (c *Controller) Response(p PortID) Response {
	return c.ports[p].resp
}

// ResetPort puts a port back into its reset state. No cache state is
// cleared; the port answers WAIT until the controller signals readiness.
func (c *Controller) ResetPort(p PortID) {
	c.ports[p].state = portReset
	c.ports[p].resp = Response{Status: StatusWait}
}

// HasDirty reports whether any resident line is dirty. The flag is derived
// from the directory, never stored.
func (c *Controller) HasDirty() bool {
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty {
				return true
			}
		}
	}
	return false
}

// Tick advances the cache domain by one tick: both port state machines,
// the backing-facing engine, and the storage bank.
func (c *Controller) Tick() {
	c.up.TickConsumer()
	c.down.TickProducer()

	c.detectDualWrite()

	first, second := c.serviceOrder()
	c.tickPort(first)
	c.tickPort(second)

	c.engine.Tick()
	c.bank.Tick()
	c.collectBankOutputs()

	for p := range c.ports {
		c.ports[p].incoming = nil
	}
}

// serviceOrder decides which port is looked at first this tick. A port
// beyond the stall ceiling goes first; otherwise grants alternate.
func (c *Controller) serviceOrder() (PortID, PortID) {
	a := c.ports[PortA].waitTicks
	b := c.ports[PortB].waitTicks

	if a > c.cfg.MaxStall || b > c.cfg.MaxStall {
		if b > a {
			return PortB, PortA
		}
		return PortA, PortB
	}

	if c.lastGrant == PortA {
		return PortB, PortA
	}
	return PortA, PortB
}

// detectDualWrite handles the same-tick same-address write collision:
// neither write takes effect and both ports are told so.
func (c *Controller) detectDualWrite() {
	a := &c.ports[PortA]
	b := &c.ports[PortB]

	if a.state == portReset || b.state == portReset {
		return
	}
	if a.kind != pendingNone || b.kind != pendingNone {
		return
	}
	if a.pending != nil || b.pending != nil {
		return
	}

	ra, rb := a.incoming, b.incoming
	if ra == nil || rb == nil || !ra.isWrite() || !rb.isWrite() {
		return
	}
	if ra.Address != rb.Address {
		return
	}
	if c.validate(ra) != StatusReady || c.validate(rb) != StatusReady {
		return
	}

	a.resp = Response{Status: StatusErrDualWrite}
	b.resp = Response{Status: StatusErrDualWrite}
	a.incoming = nil
	b.incoming = nil
	a.answered = true
	b.answered = true
	a.waitTicks = 0
	b.waitTicks = 0
	c.stats.DualWriteConflicts++
}

func (c *Controller) tickPort(p PortID) {
	pc := &c.ports[p]

	if pc.answered {
		pc.answered = false
		return
	}

	if pc.state == portReset {
		pc.resp = Response{Status: StatusWait}
		if c.engine.state != engineReset && pc.kind == pendingNone {
			pc.state = portReady
		}
		return
	}

	if pc.kind != pendingNone {
		// A hit is in the bank pipeline or a miss is with the engine.
		// Completion paths overwrite this answer in the same tick.
		pc.resp = Response{Status: StatusWait}
		pc.waitTicks++
		return
	}

	req := pc.pending
	if req == nil {
		req = c.acceptIncoming(pc)
		if req == nil {
			return
		}
	}

	c.serveRequest(p, pc, req)
}

func (c *Controller) acceptIncoming(pc *portCtx) *Request {
	req := pc.incoming
	if req == nil || (!req.Read && !req.Write) {
		pc.resp = Response{Status: StatusReady}
		return nil
	}

	if req.isWrite() {
		if len(req.Data) != c.cfg.WordSize {
			log.Panicf("cache: write data must be exactly %d bytes, got %d",
				c.cfg.WordSize, len(req.Data))
		}
		if req.Mask != nil && len(req.Mask) != c.cfg.WordSize {
			log.Panicf("cache: write mask must be exactly %d entries, got %d",
				c.cfg.WordSize, len(req.Mask))
		}
	}

	if st := c.validate(req); st != StatusReady {
		pc.resp = Response{Status: st}
		pc.waitTicks = 0
		return nil
	}

	if req.isWrite() {
		c.stats.Writes++
	} else {
		c.stats.Reads++
	}

	r := *req
	pc.pending = &r
	return pc.pending
}

// validate performs the per-request checks. It returns StatusReady when the
// request is acceptable.
func (c *Controller) validate(req *Request) Status {
	space := c.cfg.AddressSpace()
	if req.Address >= space || space-req.Address < uint64(c.cfg.WordSize) {
		return StatusErrOutOfBounds
	}
	if req.Address%uint64(c.cfg.WordSize) != 0 {
		return StatusErrMisaligned
	}

	mode := c.cfg.modeAt(req.Address)
	if req.isWrite() {
		if mode == AccessReadOnly {
			return StatusErrReadOnly
		}
	} else if mode == AccessWriteOnly {
		return StatusErrWriteOnly
	}

	return StatusReady
}

func (c *Controller) serveRequest(p PortID, pc *portCtx, req *Request) {
	// Coherence commands take priority over ordinary service so their
	// latency stays bounded; ports drain and hold until they finish.
	if c.engine.coherencePending() {
		c.holdWait(pc)
		return
	}

	lineAddr := c.lineAddr(req.Address)
	block := c.directory.Lookup(0, lineAddr)
	if block != nil && block.IsValid {
		if block.IsLocked {
			c.holdWait(pc)
			return
		}
		c.serveHit(p, pc, req, block)
		return
	}

	c.tryStartMiss(p, pc, req, lineAddr)
}

func (c *Controller) serveHit(
	p PortID,
	pc *portCtx,
	req *Request,
	block *akitacache.Block,
) {
	if !c.bank.CanAccept(int(p)) {
		c.holdWait(pc)
		return
	}

	addr := c.blockBase(block) + c.lineOffset(req.Address)
	c.directory.Visit(block)
	block.ReadCount++

	if req.isWrite() {
		c.bank.Access(int(p), bank.Op{
			Addr:  addr,
			Write: true,
			Data:  append([]byte(nil), req.Data...),
			Mask:  append([]bool(nil), req.Mask...),
		})
		pc.kind = pendingHitWrite
	} else {
		c.bank.Access(int(p), bank.Op{Addr: addr, Size: c.cfg.WordSize})
		pc.kind = pendingHitRead
	}

	pc.block = block
	c.stats.Hits++
	pc.state = portWait
	pc.resp = Response{Status: StatusWait}
	pc.waitTicks++
}

func (c *Controller) tryStartMiss(
	p PortID,
	pc *portCtx,
	req *Request,
	lineAddr uint64,
) {
	set := c.setID(req.Address)
	if c.binBusy[set] {
		c.holdWait(pc)
		return
	}

	victim := c.directory.FindVictim(lineAddr)
	if victim == nil || victim.IsLocked || victim.ReadCount > 0 {
		c.holdWait(pc)
		return
	}

	trans := &transaction{
		port:       p,
		req:        *req,
		victim:     victim,
		lineAddr:   lineAddr,
		evictValid: victim.IsValid,
		writeBack:  victim.IsValid && victim.IsDirty,
		evictAddr:  victim.Tag,
	}
	if trans.writeBack {
		// The victim is locked from here on, so this snapshot is exactly
		// the line's last-written contents.
		trans.line = c.bank.Peek(c.blockBase(victim), c.cfg.LineSize)
	}

	victim.IsLocked = true
	c.binBusy[set] = true
	c.engine.enqueue(trans)
	c.lastGrant = p

	c.stats.Misses++
	if trans.evictValid {
		c.stats.Evictions++
	}

	pc.kind = pendingMiss
	pc.state = portWait
	pc.resp = Response{Status: StatusWait}
	pc.waitTicks++
}

func (c *Controller) holdWait(pc *portCtx) {
	pc.state = portWait
	pc.resp = Response{Status: StatusWait}
	pc.waitTicks++
}

func (c *Controller) collectBankOutputs() {
	for p := range c.ports {
		pc := &c.ports[p]

		res, ok := c.bank.Output(p)
		if !ok {
			continue
		}

		switch pc.kind {
		case pendingHitRead:
			pc.resp = Response{Status: StatusReady, Data: res.Data}
		case pendingHitWrite:
			pc.block.IsDirty = true
			pc.resp = Response{Status: StatusReady}
		default:
			continue
		}

		pc.block.ReadCount--
		pc.block = nil
		pc.kind = pendingNone
		pc.pending = nil
		pc.waitTicks = 0
		if pc.state == portReset {
			// A reset arrived mid-flight; the completion is silent.
			pc.resp = Response{Status: StatusWait}
		} else {
			pc.state = portReady
		}
	}
}

// completeMiss finishes a port's miss once the engine has committed the
// refill: the held request is applied against the fresh line.
func (c *Controller) completeMiss(t *transaction) {
	pc := &c.ports[t.port]
	addr := c.blockBase(t.victim) + c.lineOffset(t.req.Address)

	if t.req.isWrite() {
		word := c.bank.Peek(addr, c.cfg.WordSize)
		for i, v := range t.req.Data {
			if t.req.Mask == nil || t.req.Mask[i] {
				word[i] = v
			}
		}
		c.bank.Poke(addr, word)
		t.victim.IsDirty = true
		pc.resp = Response{Status: StatusReady}
	} else {
		pc.resp = Response{
			Status: StatusReady,
			Data:   c.bank.Peek(addr, c.cfg.WordSize),
		}
	}

	pc.kind = pendingNone
	pc.pending = nil
	pc.block = nil
	pc.waitTicks = 0
	if pc.state == portReset {
		pc.resp = Response{Status: StatusWait}
	} else {
		pc.state = portReady
	}
}

// blockBase returns the bank address of a block's line, indexed by
// (setID * associativity + wayID).
func (c *Controller) blockBase(block *akitacache.Block) uint64 {
	return uint64(block.SetID*c.cfg.Associativity+block.WayID) *
		uint64(c.cfg.LineSize)
}
