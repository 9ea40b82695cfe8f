package kmer

import (
	"math/rand"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
)

func TestPackAndString(t *testing.T) {
	codes, ok := Codes("ACGT")
	assert.True(t, ok)
	expect.EQ(t, PackKmer(codes, 4), Kmer(0x1b)) // 00 01 10 11
	expect.EQ(t, PackKmer(codes, 4).StringN(4), "ACGT")
	expect.EQ(t, PackMmer(codes, 3), Mmer(0x6)) // 00 01 10
	expect.EQ(t, PackMmer(codes, 3).StringN(3), "ACG")
}

func TestCodesRejectsAmbiguous(t *testing.T) {
	_, ok := Codes("ACGNT")
	assert.False(t, ok)
	_, ok = Codes("acgt")
	assert.True(t, ok)
}

func TestRollingMatchesRepack(t *testing.T) {
	const k, m = 7, 3
	r := rand.New(rand.NewSource(0))
	codes := make([]Code, 200)
	for i := range codes {
		codes[i] = Code(r.Intn(4))
	}
	kMask, mMask := KmerMask(k), MmerMask(m)
	kv := PackKmer(codes, k)
	mv := PackMmer(codes, m)
	for i := k; i < len(codes); i++ {
		kv = kv.Next(codes[i], kMask)
		assert.Equal(t, PackKmer(codes[i-k+1:], k), kv, "offset %d", i)
	}
	for i := m; i < len(codes); i++ {
		mv = mv.Next(codes[i], mMask)
		assert.Equal(t, PackMmer(codes[i-m+1:], m), mv, "offset %d", i)
	}
}

// Packed comparison must agree with lexicographic order over the bases so
// that window minima can be taken by scalar comparison.
func TestOrderingIsLexicographic(t *testing.T) {
	const m = 4
	r := rand.New(rand.NewSource(1))
	seq := func() string {
		buf := make([]byte, m)
		for i := range buf {
			buf[i] = "ACGT"[r.Intn(4)]
		}
		return string(buf)
	}
	for iter := 0; iter < 1000; iter++ {
		a, b := seq(), seq()
		ca, _ := Codes(a)
		cb, _ := Codes(b)
		assert.Equal(t, a < b, PackMmer(ca, m) < PackMmer(cb, m), "%s vs %s", a, b)
	}
}

func TestMasks(t *testing.T) {
	expect.EQ(t, KmerMask(32), Kmer(0xffffffffffffffff))
	expect.EQ(t, KmerMask(1), Kmer(3))
	expect.EQ(t, MmerMask(16), Mmer(0xffffffff))
	expect.EQ(t, MmerMask(3), Mmer(0x3f))
	expect.EQ(t, NumMmers(3), 64)
	expect.EQ(t, NumMmers(9), 262144)
}
