package cache

// Status is the per-tick answer a port gives its client.
type Status int

const (
	// StatusWait tells the client to hold or re-issue: a miss is in
	// progress, the bin is locked, or the backing store is busy. It is the
	// zero value so a freshly reset port reports it by default.
	StatusWait Status = iota

	// StatusReady means the request was serviced; read data and side
	// effects are valid. An idle port also reports ready, meaning it can
	// accept a new request.
	StatusReady

	// StatusErrOutOfBounds means the address exceeds the configured
	// backing store address space.
	StatusErrOutOfBounds

	// StatusErrMisaligned means the address is not aligned to the client
	// word size.
	StatusErrMisaligned

	// StatusErrReadOnly means a write targeted a read-only region.
	StatusErrReadOnly

	// StatusErrWriteOnly means a read targeted a write-only region.
	StatusErrWriteOnly

	// StatusErrDualWrite means both ports attempted to write the identical
	// address in the same tick. Neither write takes effect and both ports
	// receive this status. Reads are unaffected by the rule.
	StatusErrDualWrite
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusWait:
		return "WAIT"
	case StatusReady:
		return "READY"
	case StatusErrOutOfBounds:
		return "ERROR_OUT_OF_BOUNDS"
	case StatusErrMisaligned:
		return "ERROR_MISALIGNED"
	case StatusErrReadOnly:
		return "ERROR_READONLY"
	case StatusErrWriteOnly:
		return "ERROR_WRITEONLY"
	case StatusErrDualWrite:
		return "ERROR_DUAL_WRITE"
	default:
		return "UNKNOWN"
	}
}

// IsError reports whether the status is one of the per-request client
// errors. Errors are reported synchronously and never retried internally.
func (s Status) IsError() bool {
	return s != StatusWait && s != StatusReady
}
