// Package kmer provides 2-bit packed k-mer and m-mer primitives used
// throughout the counting pipeline.  A base is one of A,C,G,T, encoded in two
// bits; a k-mer packs K consecutive bases into a uint64 with the first base in
// the most significant bit pair.  Values of equal length compare by their
// packed integer, which coincides with lexicographic order over the bases.
package kmer

const (
	// MaxK is the longest k-mer representable in a Kmer.
	MaxK = 32
	// MaxM is the longest m-mer representable in an Mmer.
	MaxM = 16
)

// Code is a 2-bit base code: A=0, C=1, G=2, T=3.
type Code = uint8

// InvalidCode is the CodeFromBase value for bytes outside acgtACGT.
const InvalidCode = Code(255)

// CodeFromBase maps an ASCII base to its 2-bit code, or InvalidCode.
var CodeFromBase [256]Code

var baseFromCode = [4]byte{'A', 'C', 'G', 'T'}

func init() {
	for i := range CodeFromBase {
		CodeFromBase[i] = InvalidCode
	}
	CodeFromBase['A'] = 0
	CodeFromBase['a'] = 0
	CodeFromBase['C'] = 1
	CodeFromBase['c'] = 1
	CodeFromBase['G'] = 2
	CodeFromBase['g'] = 2
	CodeFromBase['T'] = 3
	CodeFromBase['t'] = 3
}

// Kmer is a compact encoding of a sequence of up to 32 bases.
type Kmer uint64

// Mmer is a compact encoding of a sequence of up to 16 bases.  M-mers are the
// minimizer candidates; they are kept narrow so that dense arrays indexed by
// m-mer value (the load histogram and the rank map) stay affordable.
type Mmer uint32

// KmerMask returns the mask covering the low 2k bits of a Kmer.
func KmerMask(k int) Kmer {
	return ^(Kmer(0xffffffffffffffff) << Kmer(k*2))
}

// MmerMask returns the mask covering the low 2m bits of an Mmer.
func MmerMask(m int) Mmer {
	return ^(Mmer(0xffffffff) << Mmer(m*2))
}

// NumMmers returns the size of the m-mer space, 4^m.
func NumMmers(m int) int { return 1 << uint(2*m) }

// PackKmer packs codes[0:k] into a Kmer.  The caller guarantees len(codes)>=k
// and that every code is in [0,4).
func PackKmer(codes []Code, k int) Kmer {
	var v Kmer
	for _, c := range codes[:k] {
		v = (v << 2) | Kmer(c)
	}
	return v
}

// PackMmer packs codes[0:m] into an Mmer.
func PackMmer(codes []Code, m int) Mmer {
	var v Mmer
	for _, c := range codes[:m] {
		v = (v << 2) | Mmer(c)
	}
	return v
}

// Next shifts c into the low bit pair of v, dropping the oldest base.
func (v Kmer) Next(c Code, mask Kmer) Kmer {
	return ((v << 2) | Kmer(c)) & mask
}

// Next shifts c into the low bit pair of v, dropping the oldest base.
func (v Mmer) Next(c Code, mask Mmer) Mmer {
	return ((v << 2) | Mmer(c)) & mask
}

// StringN decodes the low 2n bits of v as bases.
func (v Kmer) StringN(n int) string {
	buf := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		buf[i] = baseFromCode[v&3]
		v >>= 2
	}
	return string(buf)
}

// StringN decodes the low 2n bits of v as bases.
func (v Mmer) StringN(n int) string {
	buf := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		buf[i] = baseFromCode[v&3]
		v >>= 2
	}
	return string(buf)
}

// Codes converts an ASCII sequence to 2-bit codes.  It returns ok=false if
// seq contains a base outside acgtACGT; the pipeline requires callers to
// sanitize such reads before extraction.
func Codes(seq string) (codes []Code, ok bool) {
	codes = make([]Code, len(seq))
	for i := 0; i < len(seq); i++ {
		c := CodeFromBase[seq[i]]
		if c == InvalidCode {
			return nil, false
		}
		codes[i] = c
	}
	return codes, true
}
