package main

// kmer-count counts the occurrences of every length-k DNA subsequence in a
// collection of FASTQ/FASTA inputs, partitioned across P shared-nothing
// ranks by super-mer minimizer.  The ranks run in-process over the
// memcomm transport; the collective discipline is the same as a
// multi-process deployment's.
//
// Example:
//
//	kmer-count -k 21 -m 9 -p 8 -out counts reads1.fastq.gz reads2.fastq.gz
//
// writes counts-000.tsv ... counts-007.tsv, one (kmer, count) table per
// rank.  Any k-mer appears in exactly one rank's table, with its global
// count.

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bio/encoding/fasta"
	"github.com/grailbio/bio/encoding/fastq"
	"github.com/grailbio/kmerdist/balance"
	"github.com/grailbio/kmerdist/collective/memcomm"
	"github.com/grailbio/kmerdist/dist"
	"github.com/grailbio/kmerdist/kmer"
	"golang.org/x/sync/errgroup"
)

type countFlags struct {
	p         int
	format    string
	balance   string
	outPrefix string
}

// sanitize splits seq at ambiguous bases and sends each ACGT-only fragment
// of at least k bases to emit.  The core requires pre-sanitized 2-bit
// codes; splitting at Ns is the parser's job.
func sanitize(seq string, k int, emit func([]kmer.Code)) {
	start := 0
	flush := func(end int) {
		if end-start >= k {
			frag := make([]kmer.Code, end-start)
			for i := start; i < end; i++ {
				frag[i-start] = kmer.CodeFromBase[seq[i]]
			}
			emit(frag)
		}
		start = end + 1
	}
	for i := 0; i < len(seq); i++ {
		if kmer.CodeFromBase[seq[i]] == kmer.InvalidCode {
			flush(i)
		}
	}
	flush(len(seq))
}

// openInput opens path through the file package (local or S3) and
// uncompresses by extension.
func openInput(ctx context.Context, path string) (io.Reader, func(), error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	var r io.Reader = in.Reader(ctx)
	if u, ok := compress.NewReaderPath(r, in.Name()); ok {
		r = u
	}
	return r, func() {
		if err := in.Close(ctx); err != nil {
			log.Panicf("close %v: %v", path, err)
		}
	}, nil
}

// readInputs streams every read of every input, dealing sanitized
// fragments round-robin to the rank channels.
func readInputs(ctx context.Context, paths []string, format string, k int, chans []chan []kmer.Code) {
	next := 0
	deal := func(frag []kmer.Code) {
		chans[next] <- frag
		next = (next + 1) % len(chans)
	}
	for _, path := range paths {
		r, closer, err := openInput(ctx, path)
		if err != nil {
			log.Panicf("open %v: %v", path, err)
		}
		nRead := 0
		switch format {
		case "fastq":
			sc := fastq.NewScanner(r, fastq.Seq)
			var read fastq.Read
			for sc.Scan(&read) {
				sanitize(read.Seq, k, deal)
				nRead++
			}
			if err := sc.Err(); err != nil {
				log.Panicf("%v: %v", path, err)
			}
		case "fasta":
			fa, err := fasta.New(r)
			if err != nil {
				log.Panicf("%v: %v", path, err)
			}
			for _, name := range fa.SeqNames() {
				n, err := fa.Len(name)
				if err != nil {
					log.Panicf("%v: %v", path, err)
				}
				seq, err := fa.Get(name, 0, n)
				if err != nil {
					log.Panicf("%v: %v", path, err)
				}
				sanitize(seq, k, deal)
				nRead++
			}
		default:
			log.Panicf("unknown -format %q (want fastq or fasta)", format)
		}
		closer()
		log.Printf("%s: %d records", path, nRead)
	}
}

// writeTable dumps one rank's table as a two-column TSV.
func writeTable(ctx context.Context, path string, k int, c *dist.Counter) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	w := tsv.NewWriter(out.Writer(ctx))
	w.WriteString("kmer")
	w.WriteString("count")
	if err := w.EndLine(); err != nil {
		return err
	}
	var werr error
	c.Each(func(kv kmer.Kmer, n uint64) {
		w.WriteString(kv.StringN(k))
		w.WriteString(strconv.FormatUint(n, 10))
		if err := w.EndLine(); err != nil && werr == nil {
			werr = err
		}
	})
	if werr != nil {
		return werr
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return out.Close(ctx)
}

func run(ctx context.Context, opts dist.Opts, flags countFlags, paths []string) error {
	comms := memcomm.New(flags.p)
	chans := make([]chan []kmer.Code, flags.p)
	counters := make([]*dist.Counter, flags.p)
	for i := range chans {
		chans[i] = make(chan []kmer.Code, 1024)
		c, err := dist.NewCounter(opts, comms[i])
		if err != nil {
			return err
		}
		counters[i] = c
	}

	g := errgroup.Group{}
	for rank := 0; rank < flags.p; rank++ {
		rank := rank
		g.Go(func() error {
			c := counters[rank]
			for frag := range chans[rank] {
				c.Add(frag)
			}
			if err := c.Count(ctx); err != nil {
				return err
			}
			stats := c.Stats()
			log.Printf("rank %d: %+v", rank, stats)
			return writeTable(ctx, fmt.Sprintf("%s-%03d.tsv", flags.outPrefix, rank), opts.K, c)
		})
	}

	readInputs(ctx, paths, flags.format, opts.K, chans)
	for _, ch := range chans {
		close(ch)
	}
	return g.Wait()
}

func main() {
	opts := dist.DefaultOpts
	flags := countFlags{}
	flag.IntVar(&opts.K, "k", dist.DefaultOpts.K, "Length of kmers")
	flag.IntVar(&opts.M, "m", dist.DefaultOpts.M, "Length of minimizers")
	flag.IntVar(&flags.p, "p", 1, "Number of ranks")
	flag.StringVar(&flags.balance, "load-balance", "greedy-binning",
		"Minimizer-to-rank policy: greedy-binning or hash-mod")
	flag.StringVar(&flags.format, "format", "fastq", "Input format: fastq or fasta")
	flag.StringVar(&flags.outPrefix, "out", "./kmer-counts", "Output path prefix; one TSV per rank")

	shutdown := grail.Init()
	defer shutdown()
	ctx := vcontext.Background()

	mode, ok := balance.ParseMode(flags.balance)
	if !ok {
		log.Fatalf("invalid -load-balance %q", flags.balance)
	}
	opts.Mode = mode
	if flags.p < 1 {
		log.Fatalf("invalid -p %d", flags.p)
	}
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: kmer-count [flags] input.fastq[.gz]...")
		os.Exit(1)
	}
	if err := run(ctx, opts, flags, flag.Args()); err != nil {
		log.Fatalf("kmer-count: %v", err)
	}
	log.Printf("All done")
}
