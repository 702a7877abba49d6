package comparatif

import (
	"testing"

	"gapforets/internal/domain"
)

func rec(id, key string, year int, ledger domain.Ledger, physical float64) domain.ActionRecord {
	return domain.ActionRecord{ID: id, ActionKey: key, Year: year, Ledger: ledger, Physical: physical}
}

func TestRate(t *testing.T) {
	cases := []struct {
		num, den float64
		want     int
	}{
		{0, 0, 0},
		{5, 0, 100},
		{50, 100, 50},
		{150, 100, 150},
		{97, 100, 97},
		{1, 3, 33},
	}
	for _, tc := range cases {
		if got := Rate(tc.num, tc.den); got != tc.want {
			t.Fatalf("Rate(%v, %v) = %d, want %d", tc.num, tc.den, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		plan, cp, exec float64
		want           Status
	}{
		{100, 0, 95, OnTrack},
		{100, 0, 105, OnTrack},
		{100, 0, 80, UnderExecution},
		{100, 0, 110, OverExecution},
		{0, 50, 0, InProgress},
		{10, 0, 0, InProgress},
		{0, 0, 0, NotStarted},
		{0, 0, 5, OverExecution},
	}
	for _, tc := range cases {
		if got := Classify(tc.plan, tc.cp, tc.exec, DefaultTolerance); got != tc.want {
			t.Fatalf("Classify(%v, %v, %v) = %s, want %s", tc.plan, tc.cp, tc.exec, got, tc.want)
		}
	}
}

func TestFlatReforestation(t *testing.T) {
	records := []domain.ActionRecord{
		rec("a1", "Reforestation", 2024, domain.LedgerForecast, 100),
		rec("a2", "Reforestation", 2024, domain.LedgerExecuted, 97),
		rec("a3", "Reforestation", 2024, domain.LedgerContract, 100),
	}
	res := Flat(records)
	if len(res.Actions) != 1 {
		t.Fatalf("expected one group, got %d", len(res.Actions))
	}
	got := res.Actions[0]
	if got.ID != "a1" || got.Label != "Reforestation" || got.Unit != DefaultUnit {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if got.PlanTotal != 100 || got.CPTotal != 100 || got.ExecTotal != 97 {
		t.Fatalf("unexpected totals: %+v", got)
	}
	if got.RateExecVsPlan != 97 || got.RateExecVsContract != 97 || got.Status != OnTrack {
		t.Fatalf("unexpected rates: %+v", got)
	}
	if res.Totals.GlobalRate != 97 || res.Totals.ExecTotal != 97 {
		t.Fatalf("unexpected program totals: %+v", res.Totals)
	}
}

func TestFlatGroupsByLabelThenKey(t *testing.T) {
	labelled := rec("b1", "REF", 2024, domain.LedgerForecast, 10)
	labelled.ActionLabel = "Reforestation"
	labelled.Unit = "plants"
	other := rec("b2", "Reforestation", 2025, domain.LedgerForecast, 5)
	dup := rec("b3", "DSP", 2024, domain.LedgerForecast, 2.5)
	dup2 := rec("b4", "DSP", 2024, domain.LedgerForecast, 2.5)

	res := Flat([]domain.ActionRecord{labelled, dup, other, dup2})
	if len(res.Actions) != 2 {
		t.Fatalf("expected 2 groups, got %+v", res.Actions)
	}
	if res.Actions[0].Label != "Reforestation" || res.Actions[0].PlanTotal != 15 || res.Actions[0].Unit != "plants" {
		t.Fatalf("label should win over key: %+v", res.Actions[0])
	}
	if res.Actions[1].Label != "DSP" || res.Actions[1].PlanTotal != 5 {
		t.Fatalf("duplicates must be summed: %+v", res.Actions[1])
	}
	if res.Totals.PlanTotal != 20 || res.Totals.GlobalRate != 0 {
		t.Fatalf("unexpected totals %+v", res.Totals)
	}
}

func TestPivotSumsToFlat(t *testing.T) {
	records := []domain.ActionRecord{
		rec("c1", "Reforestation", 2025, domain.LedgerForecast, 33.333),
		rec("c2", "Reforestation", 2024, domain.LedgerForecast, 33.336),
		rec("c3", "Reforestation", 2024, domain.LedgerExecuted, 10.004),
		rec("c4", "Reforestation", 2026, domain.LedgerContract, 0.125),
		rec("c5", "Seeding", 2024, domain.LedgerExecuted, 7.777),
		rec("c6", "Seeding", 2025, domain.LedgerExecuted, 1.001),
	}
	pivot := BuildPivot(records)
	flat := Flat(records)

	if len(pivot.Years) != 3 || pivot.Years[0] != 2024 || pivot.Years[2] != 2026 {
		t.Fatalf("unexpected years %v", pivot.Years)
	}
	if pivot.Cells[0].Year != 2024 || pivot.Cells[0].Label != "Reforestation" {
		t.Fatalf("cells should be ordered by year within a group: %+v", pivot.Cells[0])
	}
	for _, line := range flat.Actions {
		var plan, cp, exec float64
		for _, c := range pivot.Cells {
			if c.Label == line.Label {
				plan += c.PlanTotal
				cp += c.CPTotal
				exec += c.ExecTotal
			}
		}
		if round2(plan) != line.PlanTotal || round2(cp) != line.CPTotal || round2(exec) != line.ExecTotal {
			t.Fatalf("pivot sum %v/%v/%v != flat %+v", plan, cp, exec, line)
		}
	}
	if pivot.Totals.PlanTotal != flat.Totals.PlanTotal || pivot.Totals.ExecTotal != flat.Totals.ExecTotal {
		t.Fatalf("pivot totals %+v differ from flat %+v", pivot.Totals, flat.Totals)
	}
}

func TestYearAndFilter(t *testing.T) {
	records := []domain.ActionRecord{
		rec("d1", "Reforestation", 2024, domain.LedgerForecast, 40),
		rec("d2", "Reforestation", 2025, domain.LedgerForecast, 60),
		rec("d3", "Reforestation", 2025, domain.LedgerExecuted, 30),
	}
	res := Options{}.Year(records, 2025)
	if len(res.Actions) != 1 || res.Actions[0].PlanTotal != 60 || res.Actions[0].RateExecVsPlan != 50 {
		t.Fatalf("unexpected year view: %+v", res)
	}
	if res.Actions[0].Status != UnderExecution {
		t.Fatalf("expected under_execution, got %s", res.Actions[0].Status)
	}
	empty := Options{}.Year(records, 2030)
	if len(empty.Actions) != 0 || empty.Totals.GlobalRate != 0 {
		t.Fatalf("expected empty result, got %+v", empty)
	}

	filtered := Filter{Year: 2024}.Apply(records)
	if len(filtered) != 1 || filtered[0].ID != "d1" {
		t.Fatalf("unexpected filter result %+v", filtered)
	}
	if got := (Filter{ActionKey: "reforestation", Ledger: domain.LedgerExecuted}).Apply(records); len(got) != 1 {
		t.Fatalf("expected 1 executed record, got %d", len(got))
	}
}

func TestToleranceOption(t *testing.T) {
	records := []domain.ActionRecord{
		rec("e1", "Reforestation", 2024, domain.LedgerForecast, 100),
		rec("e2", "Reforestation", 2024, domain.LedgerExecuted, 91),
	}
	if got := Flat(records).Actions[0].Status; got != UnderExecution {
		t.Fatalf("default tolerance: got %s", got)
	}
	if got := (Options{Tolerance: 0.1}).Flat(records).Actions[0].Status; got != OnTrack {
		t.Fatalf("10%% tolerance: got %s", got)
	}
}
