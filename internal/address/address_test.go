package address

import (
	"errors"
	"sync"
	"testing"
)

func TestParse(t *testing.T) {
	cases := map[string]Address{
		"0xE2A640":  0xE2A640,
		"0XCBF9DC":  0xCBF9DC,
		"1024":      1024,
		" 0x10_00 ": 0x1000,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil || got != want {
			t.Fatalf("Parse(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "0", "zz", "-1"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("Parse(%q) expected error", bad)
		}
	}
}

func TestTableResolveAndReplace(t *testing.T) {
	tbl := NewTable(map[string]Address{"World_Mes_Data": 0x100})
	a, err := tbl.Resolve(WorldMesData)
	if err != nil || a != 0x100 {
		t.Fatalf("resolve: %v %v", a, err)
	}
	if a.String() != "0x100" {
		t.Fatalf("String mismatch: %s", a.String())
	}

	tbl.Replace(map[string]Address{CurrentModule: 0x200})
	if _, err := tbl.Resolve(WorldMesData); !errors.Is(err, ErrUnknownRegion) {
		t.Fatalf("expected ErrUnknownRegion after replace, got %v", err)
	}
	tbl.Set(WorldMesData, 0x300)
	if a, _ := tbl.Resolve(WorldMesData); a != 0x300 {
		t.Fatalf("set not applied: %v", a)
	}
	names := tbl.Names()
	if len(names) != 2 || names[0] != CurrentModule || names[1] != WorldMesData {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestParseTableError(t *testing.T) {
	if _, err := ParseTable(map[string]string{"x": "nope"}); err == nil {
		t.Fatalf("expected error")
	}
	m, err := ParseTable(map[string]string{"X": "0x10"})
	if err != nil || m["x"] != 0x10 {
		t.Fatalf("unexpected %v %v", m, err)
	}
}

func TestTableConcurrentResolve(t *testing.T) {
	tbl := NewTable(map[string]Address{WorldMesData: 1})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if i%2 == 0 {
					tbl.Replace(map[string]Address{WorldMesData: Address(j + 1)})
				} else if _, err := tbl.Resolve(WorldMesData); err != nil {
					t.Errorf("resolve: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
