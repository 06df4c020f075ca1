package coldb

import "testing"

func TestBlockWriterRejectsOverlappingTracks(t *testing.T) {
	w := NewMemWriter()
	lw, err := NewLayerWriter(w)
	if err != nil {
		t.Fatal(err)
	}
	bw, err := lw.BeginBlock()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bw.BeginTrack(); err != nil {
		t.Fatal(err)
	}
	if _, err := bw.BeginTrack(); err == nil {
		t.Fatal("expected an error opening a second track before the first finishes")
	}
}

func TestLayerWriterRejectsOverlappingBlocks(t *testing.T) {
	w := NewMemWriter()
	lw, err := NewLayerWriter(w)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lw.BeginBlock(); err != nil {
		t.Fatal(err)
	}
	if _, err := lw.BeginBlock(); err == nil {
		t.Fatal("expected an error opening a second block before the first finishes")
	}
}

func TestBlockReaderOutOfRangeTrack(t *testing.T) {
	lr := writeSingleTrackLayer(t, intVals(1, 2, 3))
	br, err := lr.OpenBlock(0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := br.OpenTrack(5, KindInt); err == nil {
		t.Fatal("expected an error opening an out-of-range track")
	}
}

func TestLayerReaderOutOfRangeBlock(t *testing.T) {
	lr := writeSingleTrackLayer(t, intVals(1, 2, 3))
	if _, err := lr.OpenBlock(5); err == nil {
		t.Fatal("expected an error opening an out-of-range block")
	}
}
