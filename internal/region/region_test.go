package region

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()
	for _, r := range All() {
		got, err := Parse(strings.ToLower(r.String()))
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", r, err)
		}
		if got != r {
			t.Fatalf("Parse(%q) = %v", r, got)
		}
	}
	if _, err := Parse("XX"); err == nil {
		t.Fatal("expected error for unknown region")
	}
}

func TestAllOrderAndCopy(t *testing.T) {
	t.Parallel()
	got := All()
	want := []Region{EU, US, AW, AE}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("All()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	got[0] = AE
	if All()[0] != EU {
		t.Fatal("All() must return a copy")
	}
}

func TestNewTableRejectsPartial(t *testing.T) {
	t.Parallel()
	_, err := NewTable(map[Region]string{EU: "a", US: "b"})
	if err == nil {
		t.Fatal("expected error for partial table")
	}
	if !strings.Contains(err.Error(), "AW") || !strings.Contains(err.Error(), "AE") {
		t.Fatalf("error should name missing regions: %v", err)
	}
}

func TestNewTableRejectsInvalidKey(t *testing.T) {
	t.Parallel()
	_, err := NewTable(map[Region]int{EU: 1, US: 2, AW: 3, AE: 4, Region(9): 5})
	if err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestPathsIsTotal(t *testing.T) {
	t.Parallel()
	p := Paths()
	for _, r := range All() {
		if !strings.HasPrefix(p.Get(r), "bereal/moments/last/") {
			t.Fatalf("Paths().Get(%v) = %q", r, p.Get(r))
		}
	}
	if p.Get(US) != "bereal/moments/last/us-central" {
		t.Fatalf("US path = %q", p.Get(US))
	}
}

func TestTableWithCopies(t *testing.T) {
	t.Parallel()
	base := Fill(0)
	next := base.With(AW, 7)
	if base.Get(AW) != 0 || next.Get(AW) != 7 {
		t.Fatalf("With must copy: base=%d next=%d", base.Get(AW), next.Get(AW))
	}
}

func TestRegionJSONKey(t *testing.T) {
	t.Parallel()
	var m map[Region]string
	if err := json.Unmarshal([]byte(`{"eu":"@a","AE":"@b"}`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m[EU] != "@a" || m[AE] != "@b" {
		t.Fatalf("decoded = %v", m)
	}
	b, err := json.Marshal(map[Region]int{US: 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"US":1}` {
		t.Fatalf("marshal = %s", b)
	}
}
