package mip

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Status is the outcome of a solve.
type Status int

const (
	NotSolved Status = iota
	Optimal
	Infeasible
	Unbounded
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "Optimal"
	case Infeasible:
		return "Infeasible"
	case Unbounded:
		return "Unbounded"
	default:
		return "NotSolved"
	}
}

const (
	// boundEpsilon is the width under which a variable is treated as fixed.
	boundEpsilon = 1e-9
	// feasibilityTolerance is the violation allowed on rows resolved before the simplex.
	feasibilityTolerance = 1e-7
	// artificialTolerance is the artificial activity still read as a feasible point.
	artificialTolerance = 1e-7
	// artificialPenalty scales the big-M cost of artificial columns.
	artificialPenalty = 1e6
)

// perturbations are the relative right-hand side relaxations tried in turn
// when the simplex stalls on a singular basis.
var perturbations = []float64{0, 1e-9, 1e-7}

var errInfiniteLower = errors.New("variables must have a finite lower bound")

type relaxation struct {
	status    Status
	objective float64
	values    []float64
}

// presolveRow is a constraint over model variables.
type presolveRow struct {
	coefs  map[Var]float64
	sense  Sense
	rhs    float64
	active bool
}

// stdRow is a constraint over shifted, non-negative columns.
type stdRow struct {
	coefs map[int]float64
	sense Sense
	rhs   float64
}

// solveRelaxation solves the continuous relaxation of m under the given
// bounds. The model is rewritten into gonum's standard form
//
//	minimize cᵀy  s.t.  A y = b, y >= 0
//
// by tightening bounds from single-variable rows, substituting fixed
// variables, shifting every variable by its lower bound, turning upper bounds
// that no other row implies into rows and adding one slack column per
// inequality. Each row is scaled by its largest coefficient, and the simplex
// starts from a slack basis completed with penalized artificial columns, so
// gonum never has to search for a basis itself.
func solveRelaxation(m *Model, lower, upper []float64, tol float64) (relaxation, error) {
	n := len(m.vars)
	lo := append([]float64(nil), lower...)
	hi := append([]float64(nil), upper...)
	for j := 0; j < n; j++ {
		if math.IsInf(lo[j], 0) || math.IsNaN(lo[j]) {
			return relaxation{}, fmt.Errorf("%s: %w", m.vars[j].name, errInfiniteLower)
		}
		if hi[j] < lo[j]-boundEpsilon {
			return relaxation{status: Infeasible}, nil
		}
		if hi[j] < lo[j] {
			hi[j] = lo[j]
		}
	}

	rows, ok := presolve(m.constraints, lo, hi)
	if !ok {
		return relaxation{status: Infeasible}, nil
	}

	values := make([]float64, n)
	column := make([]int, n)
	free := 0
	for j := 0; j < n; j++ {
		values[j] = lo[j]
		if hi[j]-lo[j] <= boundEpsilon {
			column[j] = -1
			continue
		}
		column[j] = free
		free++
	}

	std := make([]stdRow, 0, len(rows))
	for _, r := range rows {
		s := stdRow{coefs: make(map[int]float64, len(r.coefs)), sense: r.sense, rhs: r.rhs}
		for v, a := range r.coefs {
			s.rhs -= a * lo[v]
			s.coefs[column[v]] = a
		}
		std = append(std, s)
	}
	std, ok = dropDuplicateRows(std)
	if !ok {
		return relaxation{status: Infeasible}, nil
	}

	cost := make([]float64, free)
	for _, t := range m.objective.Terms {
		if c := column[t.Var]; c >= 0 {
			cost[c] += t.Coef
		}
	}

	// A column in no row sits at whichever bound its cost prefers.
	used := make([]bool, free)
	for _, r := range std {
		for c := range r.coefs {
			used[c] = true
		}
	}
	colIndex := make([]int, free)
	nCols := 0
	for j := 0; j < n; j++ {
		c := column[j]
		if c < 0 {
			continue
		}
		if used[c] {
			colIndex[c] = nCols
			nCols++
			continue
		}
		colIndex[c] = -1
		if cost[c] < 0 {
			if math.IsInf(hi[j], 1) {
				return relaxation{status: Unbounded}, nil
			}
			values[j] = hi[j]
		}
	}
	if len(std) == 0 {
		return relaxation{status: Optimal, objective: m.objective.Eval(values), values: values}, nil
	}

	implied := impliedUpperBounds(std, free)
	for j := 0; j < n; j++ {
		c := column[j]
		if c < 0 || !used[c] || math.IsInf(hi[j], 1) {
			continue
		}
		width := hi[j] - lo[j]
		if implied[c] <= width+boundEpsilon {
			continue
		}
		std = append(std, stdRow{coefs: map[int]float64{c: 1}, sense: LessEqual, rhs: width})
	}

	for i := range std {
		remapped := make(map[int]float64, len(std[i].coefs))
		for c, a := range std[i].coefs {
			remapped[colIndex[c]] = a
		}
		std[i].coefs = remapped
		scaleRow(&std[i])
	}
	stdCost := make([]float64, nCols)
	for c, v := range cost {
		if colIndex[c] >= 0 {
			stdCost[colIndex[c]] = v
		}
	}

	x, status, err := solveStandard(std, nCols, stdCost, tol)
	if err != nil || status != Optimal {
		return relaxation{status: status}, err
	}

	for j := 0; j < n; j++ {
		c := column[j]
		if c < 0 || colIndex[c] < 0 {
			continue
		}
		y := math.Max(x[colIndex[c]], 0)
		values[j] = math.Min(lo[j]+y, hi[j])
	}
	return relaxation{status: Optimal, objective: m.objective.Eval(values), values: values}, nil
}

// presolve folds fixed variables into the right-hand sides and turns rows
// left with a single variable into bounds on it, repeating until nothing
// changes. It reports false when some row cannot be satisfied. lo and hi are
// tightened in place.
func presolve(constraints []Constraint, lo, hi []float64) ([]presolveRow, bool) {
	rows := make([]presolveRow, 0, len(constraints))
	for _, con := range constraints {
		r := presolveRow{
			coefs:  make(map[Var]float64, len(con.Expr.Terms)),
			sense:  con.Sense,
			rhs:    con.RHS - con.Expr.Constant,
			active: true,
		}
		for _, t := range con.Expr.Terms {
			r.coefs[t.Var] += t.Coef
		}
		rows = append(rows, r)
	}

	for changed := true; changed; {
		changed = false
		for i := range rows {
			r := &rows[i]
			if !r.active {
				continue
			}
			for v, a := range r.coefs {
				if a == 0 {
					delete(r.coefs, v)
					continue
				}
				if hi[v]-lo[v] <= boundEpsilon {
					r.rhs -= a * lo[v]
					delete(r.coefs, v)
				}
			}
			switch len(r.coefs) {
			case 0:
				if !satisfied(r.sense, r.rhs) {
					return nil, false
				}
				r.active = false
			case 1:
				for v, a := range r.coefs {
					if !tighten(v, a, r.sense, r.rhs, lo, hi) {
						return nil, false
					}
				}
				r.active = false
				changed = true
			}
		}
	}

	active := rows[:0]
	for _, r := range rows {
		if r.active {
			active = append(active, r)
		}
	}
	return active, true
}

// tighten applies a·v sense rhs to the bounds of v.
func tighten(v Var, a float64, sense Sense, rhs float64, lo, hi []float64) bool {
	bound := rhs / a
	switch {
	case sense == Equal:
		lo[v] = math.Max(lo[v], bound)
		hi[v] = math.Min(hi[v], bound)
	case (sense == LessEqual) == (a > 0):
		hi[v] = math.Min(hi[v], bound)
	default:
		lo[v] = math.Max(lo[v], bound)
	}
	if lo[v] > hi[v] {
		if lo[v]-hi[v] > feasibilityTolerance*(1+math.Abs(hi[v])) {
			return false
		}
		mid := (lo[v] + hi[v]) / 2
		lo[v], hi[v] = mid, mid
	}
	if hi[v]-lo[v] <= boundEpsilon {
		hi[v] = lo[v]
	}
	return true
}

// dropDuplicateRows keeps the tightest of rows that share coefficients and
// sense. Equalities that disagree make the problem infeasible.
func dropDuplicateRows(rows []stdRow) ([]stdRow, bool) {
	seen := make(map[string]int, len(rows))
	out := rows[:0]
	for _, r := range rows {
		key := rowKey(r)
		idx, dup := seen[key]
		if !dup {
			seen[key] = len(out)
			out = append(out, r)
			continue
		}
		kept := &out[idx]
		switch r.sense {
		case LessEqual:
			kept.rhs = math.Min(kept.rhs, r.rhs)
		case GreaterEqual:
			kept.rhs = math.Max(kept.rhs, r.rhs)
		default:
			if math.Abs(kept.rhs-r.rhs) > feasibilityTolerance*(1+math.Abs(r.rhs)) {
				return nil, false
			}
		}
	}
	return out, true
}

func rowKey(r stdRow) string {
	cols := make([]int, 0, len(r.coefs))
	for c := range r.coefs {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	var b strings.Builder
	b.WriteString(r.sense.String())
	for _, c := range cols {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(c))
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(math.Float64bits(r.coefs[c]), 16))
	}
	return b.String()
}

// impliedUpperBounds returns, per column, the smallest upper bound implied by
// a row whose coefficients all push the same way. Columns are non-negative,
// so such a row caps every column in it.
func impliedUpperBounds(rows []stdRow, cols int) []float64 {
	implied := make([]float64, cols)
	for c := range implied {
		implied[c] = math.Inf(1)
	}
	for _, r := range rows {
		positive, negative := true, true
		for _, a := range r.coefs {
			positive = positive && a > 0
			negative = negative && a < 0
		}
		if !(r.sense == LessEqual && positive) &&
			!(r.sense == GreaterEqual && negative) &&
			!(r.sense == Equal && (positive || negative)) {
			continue
		}
		for c, a := range r.coefs {
			implied[c] = math.Min(implied[c], r.rhs/a)
		}
	}
	return implied
}

// scaleRow divides a row by its largest coefficient magnitude.
func scaleRow(r *stdRow) {
	largest := 0.0
	for _, a := range r.coefs {
		largest = math.Max(largest, math.Abs(a))
	}
	if largest == 0 || largest == 1 {
		return
	}
	for c, a := range r.coefs {
		r.coefs[c] = a / largest
	}
	r.rhs /= largest
}

// standardForm is one assembled simplex input with a feasible starting basis.
type standardForm struct {
	c          []float64
	A          *mat.Dense
	b          []float64
	basis      []int
	artificial []int
}

// assemble lays out structural, slack and artificial columns. Each row starts
// with its slack in the basis when the slack alone satisfies it, otherwise
// with an artificial column of cost artificialCost. perturb relaxes
// inequality right-hand sides by a small, row-dependent amount.
func assemble(rows []stdRow, nCols int, cost []float64, perturb, artificialCost float64) standardForm {
	m := len(rows)
	b := make([]float64, m)
	needArtificial := make([]bool, m)
	slacks, artificials := 0, 0
	for i, r := range rows {
		b[i] = r.rhs
		if perturb > 0 && r.sense != Equal {
			delta := perturb * (1 + math.Abs(r.rhs)) * (1 + float64(i%7)/7)
			if r.sense == LessEqual {
				b[i] += delta
			} else {
				b[i] -= delta
			}
		}
		switch r.sense {
		case LessEqual:
			slacks++
			needArtificial[i] = b[i] < 0
		case GreaterEqual:
			slacks++
			needArtificial[i] = b[i] > 0
		default:
			needArtificial[i] = true
		}
		if needArtificial[i] {
			artificials++
		}
	}

	total := nCols + slacks + artificials
	A := mat.NewDense(m, total, nil)
	c := make([]float64, total)
	copy(c, cost)
	basis := make([]int, m)
	var artificial []int

	s, a := nCols, nCols+slacks
	for i, r := range rows {
		for col, v := range r.coefs {
			A.Set(i, col, v)
		}
		switch r.sense {
		case LessEqual:
			A.Set(i, s, 1)
			basis[i] = s
			s++
		case GreaterEqual:
			A.Set(i, s, -1)
			basis[i] = s
			s++
		}
		if needArtificial[i] {
			sign := 1.0
			if b[i] < 0 {
				sign = -1
			}
			A.Set(i, a, sign)
			c[a] = artificialCost
			basis[i] = a
			artificial = append(artificial, a)
			a++
		}
	}
	return standardForm{c: c, A: A, b: b, basis: basis, artificial: artificial}
}

// solveStandard runs the big-M simplex, retrying with perturbed right-hand
// sides after numerical failures. When artificial columns stay active a pure
// feasibility solve decides between infeasibility and a penalty that was too
// small.
func solveStandard(rows []stdRow, nCols int, cost []float64, tol float64) ([]float64, Status, error) {
	penalty := artificialPenalty * (1 + floats.Norm(cost, math.Inf(1)))
	var lastErr error
	for _, perturb := range perturbations {
		sf := assemble(rows, nCols, cost, perturb, penalty)
		_, x, err := simplex(sf.c, sf.A, sf.b, tol, sf.basis)
		switch {
		case errors.Is(err, lp.ErrUnbounded):
			return nil, Unbounded, nil
		case err != nil:
			lastErr = err
			continue
		}
		if activity(x, sf.artificial) <= artificialTolerance {
			return x[:nCols], Optimal, nil
		}

		feas := assemble(rows, nCols, make([]float64, nCols), perturb, 1)
		infeasibility, _, err := simplex(feas.c, feas.A, feas.b, tol, feas.basis)
		if err != nil {
			lastErr = err
			continue
		}
		if infeasibility > artificialTolerance {
			return nil, Infeasible, nil
		}
		penalty *= 1e4
		lastErr = errors.New("artificial columns stayed active on a feasible problem")
	}
	return nil, NotSolved, fmt.Errorf("simplex: %w", lastErr)
}

func activity(x []float64, cols []int) float64 {
	total := 0.0
	for _, c := range cols {
		total += math.Abs(x[c])
	}
	return total
}

// simplex guards lp.Simplex, which panics on malformed input.
func simplex(c []float64, A *mat.Dense, b []float64, tol float64, basis []int) (opt float64, x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lp.Simplex panicked: %v", r)
		}
	}()
	return lp.Simplex(c, A, b, tol, basis)
}

func satisfied(sense Sense, rhs float64) bool {
	tol := feasibilityTolerance * (1 + math.Abs(rhs))
	switch sense {
	case LessEqual:
		return 0 <= rhs+tol
	case GreaterEqual:
		return 0 >= rhs-tol
	default:
		return math.Abs(rhs) <= tol
	}
}
