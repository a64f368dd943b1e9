package outcome

import (
	"math"
	"reflect"
	"testing"
)

func TestMergeAndTotal(t *testing.T) {
	c := Counts{}
	c.Merge(map[string]int{"00": 3, "11": 1})
	c.Merge(map[string]int{"00": 2, "01": 4})

	want := Counts{"00": 5, "01": 4, "11": 1}
	if !reflect.DeepEqual(c, want) {
		t.Fatalf("got %v, want %v", c, want)
	}
	if c.Total() != 10 {
		t.Fatalf("total %d", c.Total())
	}
	if got := c.Keys(); !reflect.DeepEqual(got, []string{"00", "01", "11"}) {
		t.Fatalf("keys %v", got)
	}
}

func TestMergeAndTotalSaturate(t *testing.T) {
	c := Counts{"0": math.MaxInt - 1}
	c.Merge(map[string]int{"0": 5, "1": math.MaxInt})
	if c["0"] != math.MaxInt || c["1"] != math.MaxInt {
		t.Fatalf("merge wrapped: %v", c)
	}
	if c.Total() != math.MaxInt {
		t.Fatalf("total %d", c.Total())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	c := Counts{"0": 1}
	d := c.Clone()
	d["0"] = 7
	if c["0"] != 1 {
		t.Fatal("clone shares storage")
	}
}

func TestProportions(t *testing.T) {
	p := Counts{"0": 1, "1": 2}.Proportions(4)
	if p["0"].String() != "0.3333" || p["1"].String() != "0.6667" {
		t.Fatalf("unexpected proportions %v", p)
	}
	if len(Counts{}.Proportions(4)) != 0 {
		t.Fatal("expected empty proportions")
	}
}
