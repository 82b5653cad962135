package httpclient

// Frame is the view a hook has of the hooked function: its argument words at entry, its result
// words at return, and the execution unit it fired on.
type Frame interface {
	// Arg returns the n-th word, counting from 1. Missing words are 0.
	Arg(n int) uint64
	// Unit is the execution unit (CPU) the hook runs on.
	Unit() int
}

// Regs is a Frame over captured integer argument registers, in the order the register-based
// calling convention assigns them.
type Regs struct {
	Words [9]uint64
	CPU   int
}

// Arg implements Frame.
func (r Regs) Arg(n int) uint64 {
	if n < 1 || n > len(r.Words) {
		return 0
	}

	return r.Words[n-1]
}

// Unit implements Frame.
func (r Regs) Unit() int {
	return r.CPU
}

// Argument positions in the hooked functions.
const (
	// (*Transport).roundTrip(req *Request): receiver, req
	argRequest = 2
	// roundTrip results: *Response, error
	resultResponse = 1
	// Header.writeSubset(w io.Writer, ...): receiver map, writer itab, writer data
	argHeaders = 1
	argWriter  = 3
)
