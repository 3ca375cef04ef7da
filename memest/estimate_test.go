package memest

import (
	"testing"

	"github.com/objstore/housekeeper/repo"
)

func TestEstimateRepackIncludesBasePackAndCaches(t *testing.T) {
	base := &repo.Pack{Size: 1000, IndexSize: 100}
	est := EstimateRepack(base, 0, 10, 20, 0)
	want := uint64(1000 + 100 + 10 + 20)
	if est.WorkingSet != want {
		t.Errorf("WorkingSet = %d, want %d", est.WorkingSet, want)
	}
}

func TestEstimateRepackObjectCountTerms(t *testing.T) {
	est := EstimateRepack(nil, 100, 0, 0, 0)
	want := uint64(sizeofObjectEntry*100 + sizeofBlob*50 + sizeofTree*50 + sizeofPointer*100 + sizeofRevIndexEntry*100)
	if est.WorkingSet != want {
		t.Errorf("WorkingSet = %d, want %d", est.WorkingSet, want)
	}
}

func TestExceedsBudgetUnknownRAMNeverExceeds(t *testing.T) {
	est := Estimate{WorkingSet: 1 << 40, TotalRAM: 0}
	if est.ExceedsBudget() {
		t.Error("TotalRAM == 0 must be treated as unknown, never exceeded")
	}
}

func TestExceedsBudgetHalfRAMGate(t *testing.T) {
	cases := []struct {
		workingSet, totalRAM uint64
		want                 bool
	}{
		{50, 100, false}, // exactly half: not exceeded
		{51, 100, true},  // just over half: exceeded
		{1, 100, false},
	}
	for _, c := range cases {
		est := Estimate{WorkingSet: c.workingSet, TotalRAM: c.totalRAM}
		if got := est.ExceedsBudget(); got != c.want {
			t.Errorf("ExceedsBudget(workingSet=%d, totalRAM=%d) = %v, want %v", c.workingSet, c.totalRAM, got, c.want)
		}
	}
}
