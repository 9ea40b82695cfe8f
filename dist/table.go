package dist

import (
	"unsafe"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/log"
	"github.com/grailbio/kmerdist/kmer"
	"golang.org/x/sys/unix"
)

// The local count table is a vanilla linear-probing hash table keyed by the
// packed k-mer, with farmhash bucket selection.  Capacity is reserved once,
// from the post-exchange k-mer total, and the table never grows: the
// reservation bounds occupancy at 1/loadFactor, so a probe chain longer
// than maxCollisions means the reservation contract was broken.

const (
	hugePageSize   = 2 << 20 // size of Linux transparent hugetlb.
	loadFactor     = 4       // buckets per expected distinct kmer
	maxCollisions  = 64
	tableEntrySize = unsafe.Sizeof(tableEntry{})
)

// invalidKmer marks an empty bucket.  Opts.validate caps K at 31 so no real
// k-mer packs to this value.
const invalidKmer = kmer.Kmer(0xffffffffffffffff)

type tableEntry struct {
	kmer  kmer.Kmer
	count uint64
}

// countTable is adapted from the fusion kmer index: the table lives in an
// anon-mapped region with madvise(MADV_HUGEPAGE) to reduce TLB misses, and
// holds no Go pointers, so it costs the GC nothing to scan.
type countTable struct {
	nShift uint // 64 - log2(#buckets); upper hash bits pick the bucket

	tableStart unsafe.Pointer
	tableLimit unsafe.Pointer

	n int // occupied buckets
}

func hashKmer(k kmer.Kmer) uint64 {
	return farm.Hash64WithSeed(nil, uint64(k))
}

// reserve sizes the table for nKmers distinct k-mers at most.  Bucket count
// is the next power of two >= (nKmers+1)*loadFactor.
func (tbl *countTable) reserve(nKmers int) {
	if tbl.tableStart != nil {
		log.Panicf("count table reserved twice")
	}
	minSize := (nKmers + 1) * loadFactor
	size := 1
	shift := 0
	for size < minSize {
		if size*2 < size {
			log.Panicf("count table overflow: %d kmers", nKmers)
		}
		size *= 2
		shift++
	}
	tbl.nShift = uint(64 - shift)

	// Ubuntu, by default, activates THPs only for madvised regions, so we
	// bypass Go's standard memory allocator.
	data, err := unix.Mmap(-1, 0, size*int(tableEntrySize)+hugePageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		log.Panicf("count table: mmap %d buckets: %v", size, err)
	}
	if err := unix.Madvise(data, unix.MADV_HUGEPAGE); err != nil {
		log.Panicf("count table: madvise: %v", err)
	}
	start := ((uintptr(unsafe.Pointer(&data[0]))-1)/hugePageSize + 1) * hugePageSize
	limit := start + uintptr(size)*tableEntrySize
	for p := start; p < limit; p += tableEntrySize {
		(*tableEntry)(unsafe.Pointer(p)).kmer = invalidKmer
	}
	tbl.tableStart = unsafe.Pointer(start)
	tbl.tableLimit = unsafe.Pointer(limit)
}

// incr adds one to k's count, inserting it with count 1 if absent.
func (tbl *countTable) incr(k kmer.Kmer) {
	start := uintptr(tbl.tableStart)
	limit := uintptr(tbl.tableLimit)
	p := start + tableEntrySize*uintptr(hashKmer(k)>>tbl.nShift)
	for iter := 0; ; iter++ {
		ent := (*tableEntry)(unsafe.Pointer(p))
		if ent.kmer == k {
			ent.count++
			return
		}
		if ent.kmer == invalidKmer {
			ent.kmer = k
			ent.count = 1
			tbl.n++
			return
		}
		if iter >= maxCollisions {
			log.Panicf("count table capacity exhausted: %d distinct kmers, shift %d", tbl.n, tbl.nShift)
		}
		p += tableEntrySize
		if p >= limit {
			p = start
		}
	}
}

// get returns k's count, zero if absent.
func (tbl *countTable) get(k kmer.Kmer) uint64 {
	if tbl.tableStart == nil {
		return 0
	}
	start := uintptr(tbl.tableStart)
	limit := uintptr(tbl.tableLimit)
	p := start + tableEntrySize*uintptr(hashKmer(k)>>tbl.nShift)
	for iter := 0; iter <= maxCollisions; iter++ {
		ent := (*tableEntry)(unsafe.Pointer(p))
		if ent.kmer == k {
			return ent.count
		}
		if ent.kmer == invalidKmer {
			return 0
		}
		p += tableEntrySize
		if p >= limit {
			p = start
		}
	}
	return 0
}

// each calls f for every occupied bucket, in table order.
func (tbl *countTable) each(f func(k kmer.Kmer, count uint64)) {
	if tbl.tableStart == nil {
		return
	}
	start := uintptr(tbl.tableStart)
	limit := uintptr(tbl.tableLimit)
	for p := start; p < limit; p += tableEntrySize {
		ent := (*tableEntry)(unsafe.Pointer(p))
		if ent.kmer != invalidKmer {
			f(ent.kmer, ent.count)
		}
	}
}
