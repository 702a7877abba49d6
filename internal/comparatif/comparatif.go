// Package comparatif reconciles the forecast, contract and executed ledgers of
// a program into per-action and per-year comparison tables.
//
// Every function here is pure: callers load a snapshot of action records and
// pass it in. Quantities are summed per ledger, rounded to two decimals per
// cell, and a flat comparatif is always the column sum of the year pivot, so
// the two views cannot disagree.
package comparatif

import (
	"math"
	"sort"

	"gapforets/internal/domain"
)

// Status labels an action's drift between plan and execution.
type Status string

const (
	OnTrack        Status = "on_track"
	UnderExecution Status = "under_execution"
	OverExecution  Status = "over_execution"
	InProgress     Status = "in_progress"
	NotStarted     Status = "not_started"
)

const (
	DefaultTolerance = 0.05
	DefaultUnit      = "ha"

	epsilon = 1e-9
)

// Options tunes classification. The zero value uses the defaults.
type Options struct {
	Tolerance   float64
	DefaultUnit string
}

func (o Options) tolerance() float64 {
	if o.Tolerance <= 0 || o.Tolerance >= 1 {
		return DefaultTolerance
	}
	return o.Tolerance
}

func (o Options) unit(r domain.ActionRecord) string {
	if r.Unit != "" {
		return r.Unit
	}
	if o.DefaultUnit != "" {
		return o.DefaultUnit
	}
	return DefaultUnit
}

// Line is one row of a comparatif: an action identity, optionally scoped to a year.
type Line struct {
	ID                 string  `json:"id"`
	Label              string  `json:"label"`
	Year               int     `json:"year,omitempty"`
	Unit               string  `json:"unit"`
	PlanTotal          float64 `json:"plan_total"`
	CPTotal            float64 `json:"cp_total"`
	ExecTotal          float64 `json:"exec_total"`
	PlanFinancial      float64 `json:"plan_financial"`
	CPFinancial        float64 `json:"cp_financial"`
	ExecFinancial      float64 `json:"exec_financial"`
	RateExecVsPlan     int     `json:"rate_exec_vs_plan"`
	RateExecVsContract int     `json:"rate_exec_vs_contract"`
	Status             Status  `json:"status" enum:"on_track,under_execution,over_execution,in_progress,not_started"`
}

type Totals struct {
	PlanTotal     float64 `json:"plan_total"`
	CPTotal       float64 `json:"cp_total"`
	ExecTotal     float64 `json:"exec_total"`
	PlanFinancial float64 `json:"plan_financial"`
	CPFinancial   float64 `json:"cp_financial"`
	ExecFinancial float64 `json:"exec_financial"`
	GlobalRate    int     `json:"global_rate"`
}

type Result struct {
	Actions []Line `json:"actions"`
	Totals  Totals `json:"totals"`
}

// Pivot holds one cell per (action identity, year), grouped by identity in
// first-seen order and by ascending year inside a group.
type Pivot struct {
	Years  []int  `json:"years"`
	Cells  []Line `json:"cells"`
	Totals Totals `json:"totals"`
}

// Rate is round(num/den*100). A zero baseline reports 100 when anything was
// executed and 0 otherwise.
func Rate(num, den float64) int {
	if den > 0 {
		return int(math.Round(num / den * 100))
	}
	if num > 0 {
		return 100
	}
	return 0
}

// Classify labels exec against plan within a symmetric tolerance band.
func Classify(plan, cp, exec, tolerance float64) Status {
	switch {
	case exec > 0:
		low, high := plan*(1-tolerance), plan*(1+tolerance)
		if exec >= low-epsilon && exec <= high+epsilon {
			return OnTrack
		}
		if exec < low {
			return UnderExecution
		}
		return OverExecution
	case plan > 0 || cp > 0:
		return InProgress
	default:
		return NotStarted
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type sums struct {
	plan, cp, exec          float64
	planFin, cpFin, execFin float64
}

func (s *sums) add(r domain.ActionRecord) {
	switch r.Ledger {
	case domain.LedgerForecast:
		s.plan += r.Physical
		s.planFin += r.Financial
	case domain.LedgerContract:
		s.cp += r.Physical
		s.cpFin += r.Financial
	case domain.LedgerExecuted:
		s.exec += r.Physical
		s.execFin += r.Financial
	}
}

func (s sums) rounded() sums {
	return sums{
		plan: round2(s.plan), cp: round2(s.cp), exec: round2(s.exec),
		planFin: round2(s.planFin), cpFin: round2(s.cpFin), execFin: round2(s.execFin),
	}
}

func (s *sums) merge(o sums) {
	s.plan += o.plan
	s.cp += o.cp
	s.exec += o.exec
	s.planFin += o.planFin
	s.cpFin += o.cpFin
	s.execFin += o.execFin
}

type cell struct {
	id   string
	year int
	sums sums
}

type group struct {
	id, label, unit string
	cells           []*cell
}

// aggregate buckets records by identity then year, keeping first-seen order
// for identities and the first record id of each bucket.
func (o Options) aggregate(records []domain.ActionRecord) []*group {
	var groups []*group
	byLabel := map[string]*group{}
	byCell := map[string]map[int]*cell{}
	for _, r := range records {
		label := r.Identity()
		g, ok := byLabel[label]
		if !ok {
			g = &group{id: r.ID, label: label, unit: o.unit(r)}
			byLabel[label] = g
			byCell[label] = map[int]*cell{}
			groups = append(groups, g)
		}
		c, ok := byCell[label][r.Year]
		if !ok {
			c = &cell{id: r.ID, year: r.Year}
			byCell[label][r.Year] = c
			g.cells = append(g.cells, c)
		}
		c.sums.add(r)
	}
	for _, g := range groups {
		sort.SliceStable(g.cells, func(i, j int) bool { return g.cells[i].year < g.cells[j].year })
	}
	return groups
}

func (o Options) line(id, label, unit string, year int, s sums) Line {
	return Line{
		ID:                 id,
		Label:              label,
		Year:               year,
		Unit:               unit,
		PlanTotal:          s.plan,
		CPTotal:            s.cp,
		ExecTotal:          s.exec,
		PlanFinancial:      s.planFin,
		CPFinancial:        s.cpFin,
		ExecFinancial:      s.execFin,
		RateExecVsPlan:     Rate(s.exec, s.plan),
		RateExecVsContract: Rate(s.exec, s.cp),
		Status:             Classify(s.plan, s.cp, s.exec, o.tolerance()),
	}
}

func totalsOf(lines []Line) Totals {
	var s sums
	for _, l := range lines {
		s.merge(sums{
			plan: l.PlanTotal, cp: l.CPTotal, exec: l.ExecTotal,
			planFin: l.PlanFinancial, cpFin: l.CPFinancial, execFin: l.ExecFinancial,
		})
	}
	s = s.rounded()
	return Totals{
		PlanTotal:     s.plan,
		CPTotal:       s.cp,
		ExecTotal:     s.exec,
		PlanFinancial: s.planFin,
		CPFinancial:   s.cpFin,
		ExecFinancial: s.execFin,
		GlobalRate:    Rate(s.exec, s.plan),
	}
}

// Flat collapses every year: one line per action identity.
func (o Options) Flat(records []domain.ActionRecord) Result {
	groups := o.aggregate(records)
	lines := make([]Line, 0, len(groups))
	for _, g := range groups {
		var s sums
		for _, c := range g.cells {
			s.merge(c.sums.rounded())
		}
		lines = append(lines, o.line(g.id, g.label, g.unit, 0, s.rounded()))
	}
	return Result{Actions: lines, Totals: totalsOf(lines)}
}

// Pivot returns one line per (action identity, year).
func (o Options) Pivot(records []domain.ActionRecord) Pivot {
	groups := o.aggregate(records)
	years := map[int]struct{}{}
	cells := []Line{}
	for _, g := range groups {
		for _, c := range g.cells {
			years[c.year] = struct{}{}
			cells = append(cells, o.line(c.id, g.label, g.unit, c.year, c.sums.rounded()))
		}
	}
	p := Pivot{Years: make([]int, 0, len(years)), Cells: cells, Totals: totalsOf(cells)}
	for y := range years {
		p.Years = append(p.Years, y)
	}
	sort.Ints(p.Years)
	return p
}

// Year returns the pivot cells of a single year in comparatif shape.
func (o Options) Year(records []domain.ActionRecord, year int) Result {
	var lines []Line
	for _, c := range o.Pivot(records).Cells {
		if c.Year == year {
			lines = append(lines, c)
		}
	}
	if lines == nil {
		lines = []Line{}
	}
	return Result{Actions: lines, Totals: totalsOf(lines)}
}

// Flat uses the default options.
func Flat(records []domain.ActionRecord) Result { return Options{}.Flat(records) }

// BuildPivot uses the default options.
func BuildPivot(records []domain.ActionRecord) Pivot { return Options{}.Pivot(records) }
