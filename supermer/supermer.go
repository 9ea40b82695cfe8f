// Package supermer extracts super-mers from reads.  A super-mer is a maximal
// run of consecutive k-mers that share the same minimizer occurrence (equal
// m-mer value at the same read offset); it carries the run's bases so that a
// run of L k-mers ships as K+L-1 bases instead of L*K.  The receiving rank
// re-expands the k-mers with a rolling window.
package supermer

import (
	"github.com/grailbio/kmerdist/kmer"
)

// Supermer is one extracted run.  Bases aliases the read it was extracted
// from; callers that outlive the read must copy.
type Supermer struct {
	// Min is the minimizer shared by every k-mer in the run.
	Min kmer.Mmer
	// Bases holds the run's K+L-1 base codes, L being the run length in
	// k-mers.
	Bases []kmer.Code
}

// NumKmers returns the number of k-mers the super-mer expands to.
func (s Supermer) NumKmers(k int) int { return len(s.Bases) - k + 1 }

// minEntry is one candidate in the extractor's monotonic deque.
type minEntry struct {
	pos int // m-mer offset in the read
	val kmer.Mmer
}

// Extractor walks reads and emits super-mers.  It is pure over its input;
// one Extractor must not be shared between goroutines, but distinct
// Extractors may run concurrently.
type Extractor struct {
	k, m, w int // w = k-m+1 m-mers per k-mer window
	mMask   kmer.Mmer

	deque []minEntry // scratch, reused across reads
}

// NewExtractor returns an extractor for the given k-mer and minimizer
// lengths.  The caller guarantees 1 <= m < k (dist.NewCounter validates).
func NewExtractor(k, m int) *Extractor {
	return &Extractor{
		k:     k,
		m:     m,
		w:     k - m + 1,
		mMask: kmer.MmerMask(m),
	}
}

// Extract emits the super-mers of one read, in read order, covering each of
// its len(bases)-k+1 k-mers exactly once.  Reads shorter than k emit
// nothing.
func (e *Extractor) Extract(bases []kmer.Code, emit func(Supermer)) {
	n := len(bases)
	if n < e.k {
		return
	}
	dq := e.deque[:0]

	// Seed the deque with the w m-mers of the first k-mer window.  Strict
	// comparison when popping keeps the leftmost of equal minima at the
	// front, implementing the leftmost tie rule.
	mv := kmer.PackMmer(bases, e.m)
	dq = pushMin(dq, minEntry{0, mv})
	for i := 1; i < e.w; i++ {
		mv = mv.Next(bases[i+e.m-1], e.mMask)
		dq = pushMin(dq, minEntry{i, mv})
	}

	cur := dq[0] // current minimizer occurrence
	runStart := 0
	nKmers := n - e.k + 1
	for j := 1; j < nKmers; j++ {
		// Advance the window by one base: the incoming m-mer starts at
		// j+w-1, the outgoing one at j-1.
		mv = mv.Next(bases[j+e.k-1], e.mMask)
		dq = pushMin(dq, minEntry{j + e.w - 1, mv})
		if dq[0].pos < j {
			dq = dq[1:]
		}
		if dq[0] != cur {
			emit(Supermer{Min: cur.val, Bases: bases[runStart : j-1+e.k]})
			cur = dq[0]
			runStart = j
		}
	}
	emit(Supermer{Min: cur.val, Bases: bases[runStart:n]})
	e.deque = dq[:0]
}

func pushMin(dq []minEntry, in minEntry) []minEntry {
	for len(dq) > 0 && dq[len(dq)-1].val > in.val {
		dq = dq[:len(dq)-1]
	}
	return append(dq, in)
}
