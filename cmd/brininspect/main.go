// Command brininspect opens a store's pager file and prints a human
// readable summary of its superblock, free list, and catalog, the way an
// operator would check a store's health without touching production
// traffic. It can also force a checkpoint or run a reachability GC pass.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brinstore/brinstore/internal/metadata"
	"github.com/brinstore/brinstore/internal/pager"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rivo/uniseg"
)

var (
	flagDB         = flag.String("db", "", "path to the store's data file (required)")
	flagWAL        = flag.String("wal", "", "path to the store's WAL file (defaults to <db>.wal)")
	flagCheckpoint = flag.Bool("checkpoint", false, "force a checkpoint before reporting")
	flagGC         = flag.Bool("gc", false, "run a reachability GC pass before reporting")
	flagVerify     = flag.Bool("verify", false, "walk every page and report CRC/header inconsistencies")
	flagDumpTree   = flag.String("dump-tree", "", "dump the key-to-page index B+Tree for the named table")
	flagPage       = flag.Int("page", -1, "print header and type-specific details for a single page ID")
	flagNoColor    = flag.Bool("no-color", false, "disable colorized output even on a TTY")
)

func main() {
	flag.Parse()
	if *flagDB == "" {
		fmt.Fprintln(os.Stderr, "brininspect: -db is required")
		os.Exit(2)
	}
	walPath := *flagWAL
	if walPath == "" {
		walPath = *flagDB + ".wal"
	}

	out := colorable.NewColorableStdout()
	useColor := !*flagNoColor && isatty.IsTerminal(os.Stdout.Fd())

	p, err := pager.OpenPager(pager.PagerConfig{DBPath: *flagDB, WALPath: walPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "brininspect: open: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	if *flagCheckpoint {
		start := time.Now()
		if err := p.Checkpoint(); err != nil {
			fmt.Fprintf(os.Stderr, "brininspect: checkpoint: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(out, "checkpoint completed in %s\n", time.Since(start).Round(time.Millisecond))
	}

	txID, err := p.BeginTx()
	if err != nil {
		fmt.Fprintf(os.Stderr, "brininspect: begin tx: %v\n", err)
		os.Exit(1)
	}
	cat, err := metadata.Open(p, txID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "brininspect: open catalog: %v\n", err)
		os.Exit(1)
	}
	if err := p.CommitTx(txID); err != nil {
		fmt.Fprintf(out, "warning: commit tx: %v\n", err)
	}

	if *flagGC {
		roots, err := cat.Roots()
		if err != nil {
			fmt.Fprintf(os.Stderr, "brininspect: collect roots: %v\n", err)
			os.Exit(1)
		}
		res, err := pager.GC(p, roots)
		if err != nil {
			fmt.Fprintf(os.Stderr, "brininspect: gc: %v\n", err)
			os.Exit(1)
		}
		printSection(out, useColor, "GC result")
		fmt.Fprintf(out, "  total pages:      %s\n", humanize.Comma(int64(res.TotalPages)))
		fmt.Fprintf(out, "  reachable pages:  %s\n", humanize.Comma(int64(res.ReachablePages)))
		fmt.Fprintf(out, "  reclaimed orphans: %s\n", humanize.Comma(int64(res.Reclaimed)))
		for _, msg := range res.Errors {
			fmt.Fprintf(out, "  warning: %s\n", msg)
		}
	}

	if *flagVerify {
		issues, err := pager.VerifyDB(*flagDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "brininspect: verify: %v\n", err)
			os.Exit(1)
		}
		printSection(out, useColor, fmt.Sprintf("Verify (%d issues)", len(issues)))
		for _, issue := range issues {
			fmt.Fprintf(out, "  %s\n", issue)
		}
	}

	if *flagPage >= 0 {
		info, err := pager.InspectPage(*flagDB, pager.PageID(*flagPage), p.PageSize())
		if err != nil {
			fmt.Fprintf(os.Stderr, "brininspect: page %d: %v\n", *flagPage, err)
			os.Exit(1)
		}
		printSection(out, useColor, fmt.Sprintf("Page %d", *flagPage))
		fmt.Fprintf(out, "  type: %s  lsn: %d  crc valid: %t\n", info.TypeStr, info.LSN, info.CRCValid)
		switch info.Type {
		case pager.PageTypeBTreeInternal, pager.PageTypeBTreeLeaf:
			fmt.Fprintf(out, "  leaf: %t  keys: %d  slots: %d  free space: %s\n",
				info.IsLeaf, info.KeyCount, info.SlotCount, humanize.Bytes(uint64(info.FreeSpace)))
		case pager.PageTypeOverflow:
			fmt.Fprintf(out, "  next overflow: %d  data len: %s\n", info.NextOverflow, humanize.Bytes(uint64(info.DataLen)))
		case pager.PageTypeFreeList:
			fmt.Fprintf(out, "  next free list: %d  entries: %d\n", info.NextFreeList, info.EntryCount)
		}
	}

	sb := p.Superblock()
	printSection(out, useColor, "Superblock")
	fmt.Fprintf(out, "  page size:    %s\n", humanize.Bytes(uint64(sb.PageSize)))
	fmt.Fprintf(out, "  page count:   %s (%s)\n", humanize.Comma(int64(sb.PageCount)), humanize.Bytes(uint64(sb.PageCount)*uint64(sb.PageSize)))
	fmt.Fprintf(out, "  checkpoint lsn: %d\n", sb.CheckpointLSN)

	names, err := cat.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "brininspect: list catalog: %v\n", err)
		os.Exit(1)
	}
	printSection(out, useColor, fmt.Sprintf("Catalog (%d entries)", len(names)))
	tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKEY INDEX ROOT\tBRIN METADATA PAGE\tCREATED\tDIGEST")
	for _, name := range names {
		entry, err := cat.Get(name)
		if err != nil || entry == nil {
			fmt.Fprintf(out, "  warning: could not load %q: %v\n", name, err)
			continue
		}
		digest, err := metadata.Digest(*entry)
		digestStr := "?"
		if err == nil {
			digestStr = fmt.Sprintf("%x", digest[:6])
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
			padDisplay(name, 24),
			entry.KeyIndexRoot,
			entry.BRINMetadataPageID,
			entry.CreatedAt.Format(time.RFC3339),
			digestStr,
		)
	}
	tw.Flush()

	if *flagDumpTree != "" {
		entry, err := cat.Get(*flagDumpTree)
		if err != nil || entry == nil {
			fmt.Fprintf(os.Stderr, "brininspect: dump-tree: unknown table %q\n", *flagDumpTree)
			os.Exit(1)
		}
		dump, err := pager.DumpTree(*flagDB, entry.KeyIndexRoot, int(sb.PageSize))
		if err != nil {
			fmt.Fprintf(os.Stderr, "brininspect: dump-tree: %v\n", err)
			os.Exit(1)
		}
		printSection(out, useColor, fmt.Sprintf("Key index tree for %q", *flagDumpTree))
		fmt.Fprint(out, dump)
	}
}

// padDisplay pads name with spaces to width display columns, measuring
// width in grapheme clusters rather than bytes or runes so multi-byte
// table names still line up in a terminal.
func padDisplay(name string, width int) string {
	w := uniseg.StringWidth(name)
	if w >= width {
		return name
	}
	pad := ""
	for i := 0; i < width-w; i++ {
		pad += " "
	}
	return name + pad
}

func printSection(out io.Writer, color bool, title string) {
	if color {
		fmt.Fprintf(out, "\n\x1b[1;36m%s\x1b[0m\n", title)
		return
	}
	fmt.Fprintf(out, "\n%s\n", title)
}
