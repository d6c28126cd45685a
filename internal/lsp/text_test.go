package lsp

import (
	"testing"

	"lintwatch/internal/vfs"
)

func TestPositionOffsetUTF16(t *testing.T) {
	ws := vfs.New()
	f, err := ws.Open("/w/a.go", "aé\U0001F600b\nx")
	if err != nil {
		t.Fatal(err)
	}
	doc := f.Document()

	cases := []struct {
		pos    position
		offset int
	}{
		{position{Line: 0, Character: 0}, 0},
		{position{Line: 0, Character: 2}, 3},
		{position{Line: 0, Character: 4}, 7},
		{position{Line: 0, Character: 5}, 8},
		{position{Line: 1, Character: 1}, 10},
	}
	for _, tc := range cases {
		if got := offsetForPosition(doc, tc.pos); got != tc.offset {
			t.Fatalf("offsetForPosition(%+v) = %d, want %d", tc.pos, got, tc.offset)
		}
		if got := positionForOffset(doc, tc.offset); got != tc.pos {
			t.Fatalf("positionForOffset(%d) = %+v, want %+v", tc.offset, got, tc.pos)
		}
	}
}

func TestOffsetForPositionClamps(t *testing.T) {
	ws := vfs.New()
	f, _ := ws.Open("/w/a.go", "ab\ncd")
	doc := f.Document()
	if got := offsetForPosition(doc, position{Line: 0, Character: 40}); got != 2 {
		t.Fatalf("past line end = %d, want 2", got)
	}
	if got := offsetForPosition(doc, position{Line: 9, Character: 0}); got != doc.Len() {
		t.Fatalf("past last line = %d, want %d", got, doc.Len())
	}

	g, _ := ws.Open("/w/b.go", "a\U0001F600")
	if got := offsetForPosition(g.Document(), position{Line: 0, Character: 2}); got != 1 {
		t.Fatalf("inside surrogate pair = %d, want 1", got)
	}
}
