package main

import (
	"testing"

	"github.com/grailbio/kmerdist/kmer"
	"github.com/grailbio/testutil/expect"
)

func collect(seq string, k int) []string {
	var frags []string
	sanitize(seq, k, func(codes []kmer.Code) {
		buf := make([]byte, len(codes))
		for i, c := range codes {
			buf[i] = "ACGT"[c]
		}
		frags = append(frags, string(buf))
	})
	return frags
}

func TestSanitize(t *testing.T) {
	expect.EQ(t, collect("ACGTACGT", 5), []string{"ACGTACGT"})
	// Fragments shorter than k are dropped.
	expect.EQ(t, collect("ACGTNACGTACNGT", 5), []string{"ACGTAC"})
	expect.EQ(t, collect("NNNNN", 5), []string(nil))
	expect.EQ(t, collect("", 5), []string(nil))
	// Lowercase is accepted and normalized by the 2-bit code.
	expect.EQ(t, collect("acgtacgt", 5), []string{"ACGTACGT"})
	// Leading/trailing ambiguity.
	expect.EQ(t, collect("NACGTACGTN", 5), []string{"ACGTACGT"})
}
