package supermer

import (
	"encoding/binary"

	"github.com/grailbio/base/log"
	"github.com/grailbio/kmerdist/kmer"
)

// Wire layout of one super-mer, repeated until a bucket is exhausted:
//
//	record :=
//		baseCount: uint32          // B, k <= B <= k+maxRun-1
//		bases:     uint8[(B+3)/4]  // 2-bit codes, MSB-first within byte
//
// The minimizer is not on the wire: the receiver keys the final map by
// k-mer, and the minimizer is recomputable from the bases if ever needed.
// Deployments are assumed homogeneous; we fix little-endian for the header
// regardless.

// WireLen returns the encoded size in bytes of a super-mer of b bases.
func WireLen(b int) int { return 4 + (b+3)/4 }

// AppendWire appends the wire encoding of s to dst and returns the extended
// slice.
func AppendWire(dst []byte, s Supermer) []byte {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(s.Bases)))
	dst = append(dst, hdr[:]...)
	var acc byte
	for i, c := range s.Bases {
		acc = acc<<2 | c
		if i&3 == 3 {
			dst = append(dst, acc)
			acc = 0
		}
	}
	if n := len(s.Bases) & 3; n != 0 {
		dst = append(dst, acc<<uint((4-n)*2))
	}
	return dst
}

// WireKmerCount walks a bucket's headers without decoding payloads and
// returns the number of super-mers and the k-mers they expand to.  The
// receiver uses it to reserve hash-table capacity before insertion begins.
func WireKmerCount(buf []byte, k int) (nSup, nKmers int) {
	for len(buf) > 0 {
		if len(buf) < 4 {
			log.Panicf("wire: truncated header: %d bytes left", len(buf))
		}
		b := int(binary.LittleEndian.Uint32(buf))
		nBytes := (b + 3) / 4
		if len(buf) < 4+nBytes {
			log.Panicf("wire: truncated payload: want %d bases, %d bytes left", b, len(buf)-4)
		}
		buf = buf[4+nBytes:]
		nSup++
		if b >= k {
			nKmers += b - k + 1
		}
	}
	return nSup, nKmers
}

// WireReader decodes the super-mers of one received bucket.  The codes
// returned by Next are valid until the following call.
type WireReader struct {
	buf   []byte
	codes []kmer.Code
}

// NewWireReader returns a reader over one bucket's wire bytes.
func NewWireReader(buf []byte) *WireReader {
	return &WireReader{buf: buf}
}

// Next decodes the next super-mer payload.  It returns false when the bucket
// is exhausted.  A truncated or misframed bucket indicates a corrupted
// exchange and panics.
func (r *WireReader) Next() ([]kmer.Code, bool) {
	if len(r.buf) == 0 {
		return nil, false
	}
	if len(r.buf) < 4 {
		log.Panicf("wire: truncated header: %d bytes left", len(r.buf))
	}
	b := int(binary.LittleEndian.Uint32(r.buf))
	nBytes := (b + 3) / 4
	if len(r.buf) < 4+nBytes {
		log.Panicf("wire: truncated payload: want %d bases, %d bytes left", b, len(r.buf)-4)
	}
	packed := r.buf[4 : 4+nBytes]
	r.buf = r.buf[4+nBytes:]

	if cap(r.codes) < b {
		r.codes = make([]kmer.Code, b)
	}
	codes := r.codes[:b]
	for i := range codes {
		codes[i] = packed[i>>2] >> uint((3-i&3)*2) & 3
	}
	return codes, true
}
