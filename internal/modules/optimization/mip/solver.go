package mip

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// Options bound the work a solve may do.
type Options struct {
	// TimeLimit caps wall-clock time per solve; expiry yields NotSolved.
	// Zero means no limit beyond the caller's context.
	TimeLimit time.Duration
	// NodeLimit caps branch-and-bound nodes. When reached with an incumbent
	// the incumbent is returned with a warning; otherwise NotSolved.
	NodeLimit int
	// Tolerance is passed to the simplex as the optimality tolerance.
	Tolerance float64
	// IntegralityTolerance is how far from 0/1 a binary may sit and still count as integral.
	IntegralityTolerance float64
	// RelativeGap stops the search once no open node can improve the
	// incumbent by more than this fraction of its objective.
	RelativeGap float64
}

// DefaultOptions returns the limits used when none are configured.
func DefaultOptions() Options {
	return Options{
		TimeLimit:            30 * time.Second,
		NodeLimit:            5000,
		Tolerance:            1e-9,
		IntegralityTolerance: 1e-6,
		RelativeGap:          1e-6,
	}
}

// Solution is the result of Solver.Solve.
type Solution struct {
	Status    Status
	Objective float64
	Values    []float64
	Nodes     int
	Warnings  []string
}

// Value returns the solved value of v, or 0 when the solve found no point.
func (s Solution) Value(v Var) float64 {
	if int(v) >= len(s.Values) {
		return 0
	}
	return s.Values[v]
}

// Eval evaluates e at the solution.
func (s Solution) Eval(e Expr) float64 {
	if s.Values == nil {
		return 0
	}
	return e.Eval(s.Values)
}

// ErrTimeLimit is reported when the solve is cut short by its deadline.
var ErrTimeLimit = errors.New("solver time limit reached")

// Solver solves Models. It holds no state between calls and is safe for
// concurrent use.
type Solver struct {
	opts Options
	log  zerolog.Logger
}

// NewSolver creates a solver with the given limits.
func NewSolver(opts Options, log zerolog.Logger) *Solver {
	defaults := DefaultOptions()
	if opts.Tolerance <= 0 {
		opts.Tolerance = defaults.Tolerance
	}
	if opts.IntegralityTolerance <= 0 {
		opts.IntegralityTolerance = defaults.IntegralityTolerance
	}
	if opts.RelativeGap <= 0 {
		opts.RelativeGap = defaults.RelativeGap
	}
	if opts.NodeLimit <= 0 {
		opts.NodeLimit = defaults.NodeLimit
	}
	return &Solver{
		opts: opts,
		log:  log.With().Str("component", "mip").Logger(),
	}
}

// Options returns the solver limits.
func (s *Solver) Options() Options {
	return s.opts
}

type node struct {
	lower []float64
	upper []float64
	bound float64
	depth int
	seq   int
}

// nodeQueue orders open nodes depth-first until an incumbent exists and by
// best bound afterwards.
type nodeQueue struct {
	items     []*node
	bestFirst bool
}

func (q *nodeQueue) Len() int { return len(q.items) }

func (q *nodeQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if q.bestFirst && a.bound != b.bound {
		return a.bound < b.bound
	}
	if a.depth != b.depth {
		return a.depth > b.depth
	}
	return a.seq > b.seq
}

func (q *nodeQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *nodeQueue) Push(x any) { q.items = append(q.items, x.(*node)) }

func (q *nodeQueue) Pop() any {
	last := q.items[len(q.items)-1]
	q.items = q.items[:len(q.items)-1]
	return last
}

// search is the state of one branch-and-bound run.
type search struct {
	incumbent    []float64
	incumbentObj float64
	numericFails int
	firstFailure error
}

func (st *search) accept(m *Model, binaries []Var, values []float64) bool {
	candidate := roundBinaries(binaries, values)
	obj := m.objective.Eval(candidate)
	if st.incumbent != nil && obj >= st.incumbentObj {
		return false
	}
	st.incumbent, st.incumbentObj = candidate, obj
	return true
}

func (st *search) failed(err error) {
	if st.numericFails == 0 {
		st.firstFailure = err
	}
	st.numericFails++
}

// Solve minimizes m. Models without binaries are solved as a single LP;
// otherwise branch-and-bound explores the binaries, branching on the most
// fractional one. The search dives depth-first until it holds an incumbent,
// seeded from the model hints when they give one, and then works on the
// open node with the best bound. The returned error is reserved for
// numerical failures of the root relaxation; infeasibility and
// unboundedness are reported through Status. Infeasible is only reported
// when every node was solved, so numerical failures without an incumbent end
// as NotSolved.
func (s *Solver) Solve(ctx context.Context, m *Model) (Solution, error) {
	if s.opts.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TimeLimit)
		defer cancel()
	}
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return Solution{Status: NotSolved, Warnings: []string{ErrTimeLimit.Error()}}, nil
	}

	lower, upper := m.bounds()
	root, err := solveRelaxation(m, lower, upper, s.opts.Tolerance)
	if err != nil {
		return Solution{Status: NotSolved}, fmt.Errorf("root relaxation: %w", err)
	}
	binaries := m.Binaries()
	if root.status != Optimal || len(binaries) == 0 {
		s.log.Debug().
			Str("status", root.status.String()).
			Str("model", m.Describe()).
			Dur("elapsed", time.Since(start)).
			Msg("LP solved")
		return Solution{Status: root.status, Objective: root.objective, Values: root.values, Nodes: 1}, nil
	}

	st := &search{incumbentObj: math.Inf(1)}
	nodes := 1
	queue := &nodeQueue{}
	seq := 0
	branch := func(parent *node, relax relaxation) bool {
		v, frac := s.mostFractional(binaries, relax.values)
		if v < 0 {
			if st.accept(m, binaries, relax.values) && !queue.bestFirst {
				queue.bestFirst = true
				heap.Init(queue)
			}
			return false
		}
		down := &node{lower: parent.lower, upper: cloneWith(parent.upper, v, 0), bound: relax.objective, depth: parent.depth + 1}
		up := &node{lower: cloneWith(parent.lower, v, 1), upper: parent.upper, bound: relax.objective, depth: parent.depth + 1}
		// The child pushed last is dived into first.
		first, second := up, down
		if frac < 0.5 {
			first, second = down, up
		}
		seq++
		second.seq = seq
		heap.Push(queue, second)
		seq++
		first.seq = seq
		heap.Push(queue, first)
		return true
	}

	rootNode := &node{lower: lower, upper: upper, bound: root.objective}
	if branch(rootNode, root) {
		s.tryHints(m, binaries, lower, upper, st)
		if st.incumbent != nil {
			queue.bestFirst = true
			heap.Init(queue)
		}
	}

	nodeLimitHit := false
	for queue.Len() > 0 {
		if ctx.Err() != nil {
			s.log.Warn().Int("nodes", nodes).Dur("elapsed", time.Since(start)).Msg("Branch-and-bound stopped by time limit")
			return Solution{Status: NotSolved, Nodes: nodes, Warnings: s.numericWarnings(st, []string{ErrTimeLimit.Error()})}, nil
		}
		n := heap.Pop(queue).(*node)
		if s.pruned(st, n.bound) {
			if queue.bestFirst {
				break
			}
			continue
		}
		if nodes >= s.opts.NodeLimit {
			nodeLimitHit = true
			break
		}
		nodes++

		relax, err := solveRelaxation(m, n.lower, n.upper, s.opts.Tolerance)
		if err != nil {
			st.failed(err)
			continue
		}
		if relax.status == Unbounded {
			return Solution{Status: Unbounded, Nodes: nodes}, nil
		}
		if relax.status != Optimal || s.pruned(st, relax.objective) {
			continue
		}
		branch(n, relax)
	}

	s.log.Debug().
		Int("nodes", nodes).
		Bool("incumbent", st.incumbent != nil).
		Int("numeric_failures", st.numericFails).
		Str("model", m.Describe()).
		Dur("elapsed", time.Since(start)).
		Msg("Branch-and-bound finished")

	return s.finish(st, nodes, nodeLimitHit), nil
}

// finish turns the end state of a search into a Solution.
func (s *Solver) finish(st *search, nodes int, nodeLimitHit bool) Solution {
	warnings := s.numericWarnings(st, nil)
	switch {
	case st.incumbent != nil && nodeLimitHit:
		warnings = append(warnings, fmt.Sprintf("node limit %d reached; best solution found returned without proof of optimality", s.opts.NodeLimit))
		return Solution{Status: Optimal, Objective: st.incumbentObj, Values: st.incumbent, Nodes: nodes, Warnings: warnings}
	case st.incumbent != nil:
		return Solution{Status: Optimal, Objective: st.incumbentObj, Values: st.incumbent, Nodes: nodes, Warnings: warnings}
	case nodeLimitHit:
		warnings = append(warnings, fmt.Sprintf("node limit %d reached without a feasible solution", s.opts.NodeLimit))
		return Solution{Status: NotSolved, Nodes: nodes, Warnings: warnings}
	case st.numericFails > 0:
		warnings = append(warnings, "no feasible solution found and infeasibility not proven")
		return Solution{Status: NotSolved, Nodes: nodes, Warnings: warnings}
	default:
		return Solution{Status: Infeasible, Nodes: nodes}
	}
}

// tryHints solves the relaxation with each hint's binaries fixed and keeps
// the best integral result as the incumbent.
func (s *Solver) tryHints(m *Model, binaries []Var, lower, upper []float64, st *search) {
	for i, hint := range m.hints {
		lo := append([]float64(nil), lower...)
		hi := append([]float64(nil), upper...)
		for v, value := range hint {
			if int(v) >= len(lo) || m.vars[v].kind != Binary {
				continue
			}
			lo[v] = math.Round(value)
			hi[v] = lo[v]
		}
		relax, err := solveRelaxation(m, lo, hi, s.opts.Tolerance)
		if err != nil || relax.status != Optimal {
			s.log.Debug().Int("hint", i).Err(err).Str("status", relax.status.String()).Msg("Hint rejected")
			continue
		}
		if v, _ := s.mostFractional(binaries, relax.values); v >= 0 {
			continue
		}
		st.accept(m, binaries, relax.values)
	}
}

// pruned reports whether a node bounded below by bound cannot improve the
// incumbent beyond the relative gap.
func (s *Solver) pruned(st *search, bound float64) bool {
	if st.incumbent == nil {
		return false
	}
	gap := math.Max(1e-9, s.opts.RelativeGap*math.Abs(st.incumbentObj))
	return bound >= st.incumbentObj-gap
}

func (s *Solver) numericWarnings(st *search, warnings []string) []string {
	if st.numericFails == 0 {
		return warnings
	}
	return append(warnings, fmt.Sprintf("numerical failure in %d branch(es), subtrees skipped: %v", st.numericFails, st.firstFailure))
}

// mostFractional returns the binary farthest from integrality and its value,
// or -1 when every binary is integral.
func (s *Solver) mostFractional(binaries []Var, values []float64) (Var, float64) {
	best := Var(-1)
	bestDist := s.opts.IntegralityTolerance
	bestVal := 0.0
	for _, v := range binaries {
		x := values[v]
		dist := math.Min(x, 1-x)
		if dist > bestDist {
			best = v
			bestDist = dist
			bestVal = x
		}
	}
	return best, bestVal
}

func roundBinaries(binaries []Var, values []float64) []float64 {
	out := append([]float64(nil), values...)
	for _, v := range binaries {
		out[v] = math.Round(out[v])
	}
	return out
}

func cloneWith(bounds []float64, v Var, value float64) []float64 {
	out := append([]float64(nil), bounds...)
	out[v] = value
	return out
}
