//go:build submerge_annotate

package coldb

import (
	"strings"
	"testing"
)

func TestRenderHexdumpLabelsWrittenSpans(t *testing.T) {
	w := NewMemWriter()
	lw, err := NewLayerWriter(w)
	if err != nil {
		t.Fatal(err)
	}
	bw, err := lw.BeginBlock()
	if err != nil {
		t.Fatal(err)
	}
	tw, err := bw.BeginTrack()
	if err != nil {
		t.Fatal(err)
	}
	if err := tw.WriteDictEncoded(intVals(5, 5, 5, 6, 6, 6)); err != nil {
		t.Fatal(err)
	}
	bw2, err := tw.FinishTrack()
	if err != nil {
		t.Fatal(err)
	}
	lw2, err := bw2.FinishBlock()
	if err != nil {
		t.Fatal(err)
	}
	if err := lw2.FinishLayer(6, 1); err != nil {
		t.Fatal(err)
	}

	spans := w.Spans()
	if len(spans) == 0 {
		t.Fatal("expected annotated spans when built with submerge_annotate")
	}

	dump := RenderHexdump(spans, w.Bytes())
	if dump == "" {
		t.Fatal("expected a non-empty hex dump")
	}
	if !strings.Contains(dump, "bytes):") {
		t.Fatalf("expected a span header line in dump:\n%s", dump)
	}
}

func TestRenderHexdumpCollapsesRepeatedLines(t *testing.T) {
	buf := make([]byte, 64)
	spans := []Span{{Path: "run", Start: 0, End: int64(len(buf))}}
	dump := RenderHexdump(spans, buf)
	if !strings.Contains(dump, "repeated") {
		t.Fatalf("expected repeated-line collapsing for an all-zero buffer:\n%s", dump)
	}
}

