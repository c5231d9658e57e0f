package cache

import (
	"log"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/dualcache/timing/backing"
)

// engineState names the backing-facing state machine states. Per-port
// read/write states make the in-flight transaction's owner observable.
type engineState int

const (
	engineReset engineState = iota
	engineIdle
	engineSync
	engineSyncAll
	engineInvalidate
	engineInvalidateAll
	enginePortAReadWait
	enginePortAReadReady
	enginePortAWriteWait
	enginePortAWriteReady
	enginePortBReadWait
	enginePortBReadReady
	enginePortBWriteWait
	enginePortBWriteReady
)

// String returns the state name.
func (s engineState) String() string {
	switch s {
	case engineReset:
		return "RESET"
	case engineIdle:
		return "IDLE"
	case engineSync:
		return "SYNC"
	case engineSyncAll:
		return "SYNC_ALL"
	case engineInvalidate:
		return "INVALIDATE"
	case engineInvalidateAll:
		return "INVALIDATE_ALL"
	case enginePortAReadWait:
		return "PORT_A_READ_WAIT"
	case enginePortAReadReady:
		return "PORT_A_READ_READY"
	case enginePortAWriteWait:
		return "PORT_A_WRITE_WAIT"
	case enginePortAWriteReady:
		return "PORT_A_WRITE_READY"
	case enginePortBReadWait:
		return "PORT_B_READ_WAIT"
	case enginePortBReadReady:
		return "PORT_B_READ_READY"
	case enginePortBWriteWait:
		return "PORT_B_WRITE_WAIT"
	case enginePortBWriteReady:
		return "PORT_B_WRITE_READY"
	default:
		return "UNKNOWN"
	}
}

func readWaitState(p PortID) engineState {
	if p == PortA {
		return enginePortAReadWait
	}
	return enginePortBReadWait
}

func readReadyState(p PortID) engineState {
	if p == PortA {
		return enginePortAReadReady
	}
	return enginePortBReadReady
}

func writeWaitState(p PortID) engineState {
	if p == PortA {
		return enginePortAWriteWait
	}
	return enginePortBWriteWait
}

func writeReadyState(p PortID) engineState {
	if p == PortA {
		return enginePortAWriteReady
	}
	return enginePortBWriteReady
}

// noPort marks a writeback with no owning client port (sync commands).
const noPort PortID = -1

// transaction is one granted miss: the held request, its chosen victim,
// and, when the victim is dirty, the line snapshot to write back.
type transaction struct {
	port     PortID
	req      Request
	victim   *akitacache.Block
	lineAddr uint64

	evictValid bool
	writeBack  bool
	evictAddr  uint64
	line       []byte
}

// writebackJob streams one dirty line to the store: command, then one
// word per tick, then the ack.
type writebackJob struct {
	addr    uint64
	data    []byte
	cmdSent bool
	sent    int
}

// refillJob fetches one line from the store: command, then words until
// the store marks the last one.
type refillJob struct {
	addr    uint64
	data    []byte
	cmdSent bool
	got     int
}

type coherenceOp int

const (
	cohInvalidate coherenceOp = iota
	cohInvalidateAll
	cohSync
	cohSyncAll
)

type coherenceCmd struct {
	op   coherenceOp
	addr uint64
}

// engine is the backing-facing half of the controller. It runs in the
// cache domain and serializes everything that touches the store: miss
// writebacks and refills, plus coherence commands. Commands take
// priority over queued transactions, but a command targeting a line
// with an in-flight transaction or hit queues behind it.
type engine struct {
	c     *Controller
	state engineState

	trans        *transaction
	pendingTrans []*transaction

	coherence []coherenceCmd
	flushList []*akitacache.Block
	syncBlock *akitacache.Block
	curAddr   uint64

	wb *writebackJob
	rf *refillJob
}

func newEngine(c *Controller) *engine {
	return &engine{c: c, state: engineReset}
}

func (e *engine) enqueue(t *transaction) {
	e.pendingTrans = append(e.pendingTrans, t)
}

// coherencePending reports whether a coherence command is queued or
// executing. The controller stops issuing new port work while it holds,
// which bounds the command's completion time.
func (e *engine) coherencePending() bool {
	if len(e.coherence) > 0 {
		return true
	}
	switch e.state {
	case engineSync, engineSyncAll, engineInvalidate, engineInvalidateAll:
		return true
	}
	return false
}

func (e *engine) Tick() {
	switch {
	case e.state == engineReset:
		e.state = engineIdle
	case e.state == engineIdle:
		e.pickWork()
	case e.state == engineSync:
		if e.tickWriteback(noPort) {
			e.finishSyncLine()
			e.state = engineIdle
		}
	case e.state == engineSyncAll:
		e.tickSyncAll()
	case e.state == engineInvalidate:
		e.doInvalidate(e.curAddr)
		e.state = engineIdle
	case e.state == engineInvalidateAll:
		e.doInvalidateAll()
		e.state = engineIdle
	case e.isWriteState():
		if e.tickWriteback(e.trans.port) {
			e.c.stats.Writebacks++
			e.wb = nil
			e.beginRefill()
		}
	case e.isReadState():
		if e.tickRefill(e.trans.port) {
			e.finishMiss()
		}
	default:
		log.Panicf("cache: engine in unknown state %v", e.state)
	}
}

func (e *engine) isWriteState() bool {
	switch e.state {
	case enginePortAWriteWait, enginePortAWriteReady,
		enginePortBWriteWait, enginePortBWriteReady:
		return true
	}
	return false
}

func (e *engine) isReadState() bool {
	switch e.state {
	case enginePortAReadWait, enginePortAReadReady,
		enginePortBReadWait, enginePortBReadReady:
		return true
	}
	return false
}

func (e *engine) pickWork() {
	if len(e.coherence) > 0 {
		cmd := e.coherence[0]
		if e.coherenceBlocked(cmd) {
			// The command queues behind the in-flight work; drain it.
			e.startNextTrans()
			return
		}
		e.coherence = e.coherence[1:]
		e.startCoherence(cmd)
		return
	}
	e.startNextTrans()
}

func (e *engine) startNextTrans() {
	if len(e.pendingTrans) == 0 {
		return
	}
	t := e.pendingTrans[0]
	e.pendingTrans = e.pendingTrans[1:]
	e.trans = t

	if t.writeBack {
		e.wb = &writebackJob{addr: t.evictAddr, data: t.line}
		e.state = writeWaitState(t.port)
	} else {
		e.beginRefill()
	}
}

func (e *engine) beginRefill() {
	e.rf = &refillJob{
		addr: e.trans.lineAddr,
		data: make([]byte, e.c.cfg.LineSize),
	}
	e.state = readWaitState(e.trans.port)
}

// tickWriteback advances a dirty line transfer by at most one queue item.
// It returns true once the store has acknowledged the write.
func (e *engine) tickWriteback(port PortID) bool {
	wb := e.wb

	if !wb.cmdSent {
		if !e.c.down.CanPush() {
			return false
		}
		e.c.down.Push(backing.Command{
			Addr:  wb.addr,
			Write: true,
			Burst: e.c.cfg.BurstAmount,
		})
		wb.cmdSent = true
		return false
	}

	if wb.sent < e.c.cfg.BurstAmount {
		if !e.c.down.CanPush() {
			return false
		}
		e.c.down.Push(backing.WriteData{
			Word: wordFromLine(wb.data, wb.sent, e.c.cfg.StoreWordSize),
		})
		wb.sent++
		if port != noPort {
			e.state = writeReadyState(port)
		}
		return false
	}

	if port != noPort {
		e.state = writeWaitState(port)
	}
	item := e.c.up.Pop()
	if item == nil {
		return false
	}
	rsp := item.(backing.Response)
	if !rsp.Ack {
		log.Panic("cache: expected a write ack from the store")
	}
	return true
}

// tickRefill advances a line fetch by at most one queue item. It returns
// true once the last word of the burst has arrived.
func (e *engine) tickRefill(port PortID) bool {
	rf := e.rf

	if !rf.cmdSent {
		if !e.c.down.CanPush() {
			return false
		}
		e.c.down.Push(backing.Command{
			Addr:  rf.addr,
			Write: false,
			Burst: e.c.cfg.BurstAmount,
		})
		rf.cmdSent = true
		return false
	}

	item := e.c.up.Pop()
	if item == nil {
		return false
	}
	rsp := item.(backing.Response)
	wordToLine(rsp.Word, rf.data, rf.got, e.c.cfg.StoreWordSize)
	rf.got++
	e.state = readReadyState(port)

	if rsp.Last {
		if rf.got != e.c.cfg.BurstAmount {
			log.Panicf("cache: refill burst ended after %d of %d words",
				rf.got, e.c.cfg.BurstAmount)
		}
		return true
	}
	return false
}

// finishMiss commits a completed refill: line into the bank, directory
// updated, bin released, and the waiting port's request applied.
func (e *engine) finishMiss() {
	t := e.trans
	victim := t.victim

	e.c.bank.Poke(e.c.blockBase(victim), e.rf.data)

	victim.Tag = t.lineAddr
	victim.IsValid = true
	victim.IsDirty = false
	victim.IsLocked = false
	e.c.directory.Visit(victim)

	delete(e.c.binBusy, victim.SetID)
	e.c.stats.Refills++

	e.c.completeMiss(t)

	e.trans = nil
	e.rf = nil
	e.state = engineIdle
}

func (e *engine) coherenceBlocked(cmd coherenceCmd) bool {
	switch cmd.op {
	case cohInvalidate, cohSync:
		block := e.c.directory.Lookup(0, e.c.lineAddr(cmd.addr))
		return block != nil && (block.IsLocked || block.ReadCount > 0)
	default:
		return len(e.pendingTrans) > 0 || e.anyBlockBusy()
	}
}

func (e *engine) anyBlockBusy() bool {
	for _, set := range e.c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsLocked || block.ReadCount > 0 {
				return true
			}
		}
	}
	return false
}

func (e *engine) startCoherence(cmd coherenceCmd) {
	switch cmd.op {
	case cohInvalidate:
		e.curAddr = cmd.addr
		e.state = engineInvalidate
	case cohInvalidateAll:
		e.state = engineInvalidateAll
	case cohSync:
		block := e.c.directory.Lookup(0, e.c.lineAddr(cmd.addr))
		if block == nil || !block.IsValid || !block.IsDirty {
			return
		}
		e.beginSyncLine(block)
		e.state = engineSync
	case cohSyncAll:
		e.flushList = e.collectDirty()
		e.state = engineSyncAll
	}
}

func (e *engine) beginSyncLine(block *akitacache.Block) {
	e.syncBlock = block
	e.wb = &writebackJob{
		addr: block.Tag,
		data: e.c.bank.Peek(e.c.blockBase(block), e.c.cfg.LineSize),
	}
}

func (e *engine) finishSyncLine() {
	e.syncBlock.IsDirty = false
	e.c.stats.Writebacks++
	e.c.stats.Syncs++
	e.syncBlock = nil
	e.wb = nil
}

func (e *engine) tickSyncAll() {
	if e.wb == nil {
		if len(e.flushList) == 0 {
			e.state = engineIdle
			return
		}
		block := e.flushList[0]
		e.flushList = e.flushList[1:]
		e.beginSyncLine(block)
		return
	}
	if e.tickWriteback(noPort) {
		e.finishSyncLine()
	}
}

func (e *engine) collectDirty() []*akitacache.Block {
	var list []*akitacache.Block
	for _, set := range e.c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty {
				list = append(list, block)
			}
		}
	}
	return list
}

// doInvalidate drops one resident line. The caller asserts an up-to-date
// copy exists elsewhere, so dirty contents are discarded without a
// writeback.
func (e *engine) doInvalidate(addr uint64) {
	block := e.c.directory.Lookup(0, e.c.lineAddr(addr))
	if block == nil || !block.IsValid {
		return
	}
	block.IsValid = false
	block.IsDirty = false
	e.c.stats.Invalidations++
}

func (e *engine) doInvalidateAll() {
	for _, set := range e.c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid {
				block.IsValid = false
				block.IsDirty = false
				e.c.stats.Invalidations++
			}
		}
	}
}

// wordFromLine extracts store word idx from a line, little-endian.
func wordFromLine(line []byte, idx, size int) uint64 {
	var word uint64
	base := idx * size
	for i := 0; i < size; i++ {
		word |= uint64(line[base+i]) << (8 * i)
	}
	return word
}

// wordToLine deposits store word idx into a line, little-endian.
func wordToLine(word uint64, line []byte, idx, size int) {
	base := idx * size
	for i := 0; i < size; i++ {
		line[base+i] = byte(word >> (8 * i))
	}
}
