package backing

// Command is a downbound request for one burst transfer. A read command is
// answered with Burst data Responses; a write command is followed on the
// same queue by Burst WriteData words and answered with a single ack
// Response.
type Command struct {
	// Addr is the byte address of the first word of the burst.
	Addr uint64

	// Write selects the transfer direction.
	Write bool

	// Burst is the number of store words in the transfer.
	Burst int
}

// WriteData is one downbound data word of a write burst.
type WriteData struct {
	Word uint64
}

// Response is one upbound item. Read bursts produce one Response per word
// with Last set on the final one; write bursts produce a single Response
// with Ack set.
type Response struct {
	Word uint64
	Last bool
	Ack  bool
}
