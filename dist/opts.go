package dist

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/kmerdist/balance"
	"github.com/grailbio/kmerdist/kmer"
)

// Opts configures one counting run.  K and M are fixed for the run and must
// be identical on every rank.
type Opts struct {
	// K is the k-mer length, in [2, 31].  31 rather than kmer.MaxK: the
	// all-ones packed value is the count table's empty sentinel, and at
	// K=32 poly-T would collide with it.
	K int
	// M is the minimizer length, in [1, K).  4^M is the size of the load
	// histogram and rank map, so M should be chosen such that 4^M is at
	// least a few times the rank count.
	M int
	// Mode selects how minimizers are assigned to ranks.
	Mode balance.Mode
	// Predicate, if non-nil, is applied during local insertion; k-mers
	// failing it are not counted.
	Predicate func(kmer.Kmer) bool
}

// DefaultOpts sets the default values to Opts.
var DefaultOpts = Opts{
	K:    21,
	M:    9, // 2^18 minimizer bins
	Mode: balance.GreedyBinning,
}

func (o Opts) validate() error {
	if o.K < 2 || o.K > 31 {
		return errors.E(errors.Invalid, "dist: k must be in [2, 31]:", o.K)
	}
	if o.M < 1 || o.M >= o.K {
		return errors.E(errors.Invalid, "dist: m must be in [1, k):", o.M)
	}
	if o.M > kmer.MaxM {
		return errors.E(errors.Invalid, "dist: m exceeds the m-mer word:", o.M)
	}
	return nil
}
