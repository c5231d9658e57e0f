package cache

// PortID identifies one of the two symmetric client ports.
type PortID int

const (
	// PortA is the first client port.
	PortA PortID = iota
	// PortB is the second client port.
	PortB
	// NumPorts is the number of client ports.
	NumPorts
)

// String returns the port name.
func (p PortID) String() string {
	switch p {
	case PortA:
		return "A"
	case PortB:
		return "B"
	default:
		return "?"
	}
}

// Request is one client request, consumed within the port's own visible
// latency bound and never persisted beyond the current transaction.
//
// When both Read and Write are set, the request is treated as a write.
// When neither is set, the port has no request this tick.
type Request struct {
	// Address is the byte address of the accessed word. Must be aligned
	// to the configured word size.
	Address uint64

	// Read and Write are the operation enables.
	Read  bool
	Write bool

	// Data holds exactly WordSize bytes to write.
	Data []byte

	// Mask optionally enables individual bytes of Data. A nil mask writes
	// the whole word.
	Mask []bool
}

// isWrite reports the effective operation.
func (r *Request) isWrite() bool {
	return r.Write
}

// Response is the per-tick answer on a port. Data is set for completed
// reads only.
type Response struct {
	Status Status
	Data   []byte
}

// lineAddr returns the line-aligned address containing addr.
func (c *Controller) lineAddr(addr uint64) uint64 {
	return addr &^ uint64(c.cfg.LineSize-1)
}

// setID returns the associativity bin index for addr.
func (c *Controller) setID(addr uint64) int {
	return int(addr / uint64(c.cfg.LineSize) % uint64(c.cfg.NumSets()))
}

// lineOffset returns the byte offset of addr within its line.
func (c *Controller) lineOffset(addr uint64) uint64 {
	return addr & uint64(c.cfg.LineSize-1)
}
