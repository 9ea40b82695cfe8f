// Package collective defines the transport contract the counting pipeline
// runs over: P shared-nothing ranks communicating exclusively through
// MPI-style collective operations.  Every rank must enter each collective in
// the same order; an error from any collective is fatal to the run and
// leaves the communicator unusable.
package collective

import "context"

// Comm is one rank's endpoint of a P-rank communicator.
type Comm interface {
	// Rank returns this rank's id in [0, Size).
	Rank() int
	// Size returns P, the number of ranks.
	Size() int
	// AllReduceUint64 sum-reduces inout elementwise across ranks.  On
	// return, every rank's slice holds the identical global sums.  All
	// ranks must pass slices of the same length.
	AllReduceUint64(ctx context.Context, inout []uint64) error
	// AllToAll exchanges one int64 per destination rank.  send[p] is
	// delivered to rank p; recv[p] on this rank is what rank p sent to
	// it.  len(send) must equal Size.
	AllToAll(ctx context.Context, send []int64) (recv []int64, err error)
	// AllToAllv exchanges one variable-length byte buffer per destination
	// rank, with the same indexing as AllToAll.  Received buffers must
	// not alias the sender's.
	AllToAllv(ctx context.Context, send [][]byte) (recv [][]byte, err error)
}
