// Command submergedump is a read-only inspection tool over a finished
// layer file: it prints the layer/block/track structure, optionally
// materializes one column's values, and (with -dump) re-encodes that
// column into a fresh annotated buffer and prints a labeled hex dump of
// it (see coldb.RenderHexdump). The dump is only non-empty when this
// binary is built with -tags submerge_annotate.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/graydon/submerge/coldb"
)

func main() {
	var (
		path   = flag.String("f", "", "path to a layer file (required)")
		column = flag.Int("col", -1, "if set, materialize and print this track/column index")
		kind   = flag.String("kind", "int", "value kind for -col: int, flo, or bin")
		dump   = flag.Bool("dump", false, "re-encode -col into a fresh annotated buffer and print its hex dump")
	)
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: submergedump -f <layer file> [-col N -kind int|flo|bin] [-dump]")
		os.Exit(2)
	}
	if *dump && *column < 0 {
		fmt.Fprintln(os.Stderr, "submergedump: -dump requires -col")
		os.Exit(2)
	}

	if err := run(*path, *column, *kind, *dump); err != nil {
		fmt.Fprintln(os.Stderr, "submergedump:", err)
		os.Exit(1)
	}
}

func run(path string, column int, kindName string, dump bool) error {
	r, err := coldb.NewFileReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	lr, err := coldb.OpenLayer(r)
	if err != nil {
		return err
	}

	fmt.Printf("layer %s: rows=%d cols=%d blocks=%d\n", path, lr.Rows(), lr.Cols(), lr.NBlocks())

	kind, err := parseKind(kindName)
	if err != nil {
		return err
	}

	for b := 0; b < lr.NBlocks(); b++ {
		br, err := lr.OpenBlock(b)
		if err != nil {
			return err
		}
		fmt.Printf("  block %d: tracks=%d\n", b, br.NTracks())
		for t := 0; t < br.NTracks(); t++ {
			tr, err := br.OpenTrack(t, kind)
			if err != nil {
				return err
			}
			if base, factor, ok := tr.Implicit(); ok {
				fmt.Printf("    track %d: implicit base=%d factor=%d rows=%d\n", t, base, factor, tr.Rows())
				continue
			}
			fmt.Printf("    track %d: rows=%d lo=%d hi=%d\n", t, tr.Rows(), tr.LoVal(), tr.HiVal())
		}
	}

	if column < 0 {
		return nil
	}
	vals, err := lr.MaterializeRows(context.Background(), column, kind)
	if err != nil {
		return err
	}
	fmt.Printf("column %d (%d rows):\n", column, len(vals))
	for i, v := range vals {
		fmt.Printf("  [%d] %v\n", i, v)
	}

	if dump {
		return dumpColumn(vals)
	}
	return nil
}

// dumpColumn re-encodes vals as a standalone single-track layer in a
// fresh MemWriter and prints coldb.RenderHexdump over the spans that
// writer annotated. Outside a -tags submerge_annotate build the spans
// are empty and the dump says so, since the wire bytes are identical
// either way (see annotate_off.go).
func dumpColumn(vals []coldb.Value) error {
	w := coldb.NewMemWriter()
	lw, err := coldb.NewLayerWriter(w)
	if err != nil {
		return err
	}
	bw, err := lw.BeginBlock()
	if err != nil {
		return err
	}
	tw, err := bw.BeginTrack()
	if err != nil {
		return err
	}
	if err := tw.WriteDictEncoded(vals); err != nil {
		return err
	}
	bw2, err := tw.FinishTrack()
	if err != nil {
		return err
	}
	lw2, err := bw2.FinishBlock()
	if err != nil {
		return err
	}
	if err := lw2.FinishLayer(int64(len(vals)), 1); err != nil {
		return err
	}

	spans := w.Spans()
	if len(spans) == 0 {
		fmt.Println("(no annotation spans: rebuild with -tags submerge_annotate for a labeled hex dump)")
		return nil
	}
	fmt.Print(coldb.RenderHexdump(spans, w.Bytes()))
	return nil
}

func parseKind(name string) (coldb.Kind, error) {
	switch name {
	case "int":
		return coldb.KindInt, nil
	case "flo":
		return coldb.KindFlo, nil
	case "bin":
		return coldb.KindBin, nil
	default:
		return 0, fmt.Errorf("unknown -kind %q (want int, flo, or bin)", name)
	}
}
