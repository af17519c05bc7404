// Package mip builds linear and mixed-integer programs and solves them with
// gonum's simplex, branching on binary variables when the model has any.
package mip

import (
	"fmt"
	"math"
)

// Var identifies a decision variable of a Model.
type Var int

// Kind is the domain of a variable.
type Kind int

const (
	Continuous Kind = iota
	Binary
)

// Sense is the relation of a constraint row.
type Sense int

const (
	LessEqual Sense = iota
	GreaterEqual
	Equal
)

func (s Sense) String() string {
	switch s {
	case LessEqual:
		return "<="
	case GreaterEqual:
		return ">="
	default:
		return "="
	}
}

// Inf is the upper bound of an unbounded variable.
var Inf = math.Inf(1)

// Term is one coefficient of a linear expression.
type Term struct {
	Var  Var
	Coef float64
}

// Expr is a linear expression plus a constant.
type Expr struct {
	Terms    []Term
	Constant float64
}

// Add appends coef*v to the expression. Zero coefficients are dropped.
func (e *Expr) Add(v Var, coef float64) *Expr {
	if coef != 0 {
		e.Terms = append(e.Terms, Term{Var: v, Coef: coef})
	}
	return e
}

// AddConstant adds c to the constant part.
func (e *Expr) AddConstant(c float64) *Expr {
	e.Constant += c
	return e
}

// AddExpr appends scale*o to the expression.
func (e *Expr) AddExpr(o Expr, scale float64) *Expr {
	if scale == 0 {
		return e
	}
	for _, t := range o.Terms {
		e.Add(t.Var, t.Coef*scale)
	}
	e.Constant += o.Constant * scale
	return e
}

// Scaled returns a copy of the expression multiplied by scale.
func (e Expr) Scaled(scale float64) Expr {
	var out Expr
	out.AddExpr(e, scale)
	return out
}

// Eval evaluates the expression at values.
func (e Expr) Eval(values []float64) float64 {
	total := e.Constant
	for _, t := range e.Terms {
		total += t.Coef * values[t.Var]
	}
	return total
}

// Constraint is a named row: Expr Sense RHS.
type Constraint struct {
	Name  string
	Expr  Expr
	Sense Sense
	RHS   float64
}

type variable struct {
	name  string
	lower float64
	upper float64
	kind  Kind
}

// Model is a minimization problem over bounded variables.
type Model struct {
	vars        []variable
	constraints []Constraint
	objective   Expr
	hints       []map[Var]float64
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{}
}

// AddVar adds a variable with bounds [lower, upper]. upper may be math.Inf(1).
// Binary variables are clamped to [0, 1].
func (m *Model) AddVar(name string, lower, upper float64, kind Kind) Var {
	if kind == Binary {
		lower = math.Max(lower, 0)
		upper = math.Min(upper, 1)
	}
	m.vars = append(m.vars, variable{name: name, lower: lower, upper: upper, kind: kind})
	return Var(len(m.vars) - 1)
}

// AddContinuous adds a continuous variable bounded by [lower, upper].
func (m *Model) AddContinuous(name string, lower, upper float64) Var {
	return m.AddVar(name, lower, upper, Continuous)
}

// AddBinary adds a 0/1 variable.
func (m *Model) AddBinary(name string) Var {
	return m.AddVar(name, 0, 1, Binary)
}

// AddConstraint adds the row e sense rhs.
func (m *Model) AddConstraint(name string, e Expr, sense Sense, rhs float64) {
	m.constraints = append(m.constraints, Constraint{Name: name, Expr: e, Sense: sense, RHS: rhs})
}

// SetObjective sets the expression to minimize.
func (m *Model) SetObjective(e Expr) {
	m.objective = e
}

// AddHint registers values for some binaries that the solver tries as a
// starting point before branching. A hint whose fixing is infeasible or
// leaves other binaries fractional is ignored.
func (m *Model) AddHint(values map[Var]float64) {
	m.hints = append(m.hints, values)
}

// Objective returns the expression being minimized.
func (m *Model) Objective() Expr {
	return m.objective
}

// NumVars returns the number of variables.
func (m *Model) NumVars() int {
	return len(m.vars)
}

// NumConstraints returns the number of constraint rows.
func (m *Model) NumConstraints() int {
	return len(m.constraints)
}

// Constraints returns the constraint rows.
func (m *Model) Constraints() []Constraint {
	return m.constraints
}

// Name returns the name of v.
func (m *Model) Name(v Var) string {
	return m.vars[v].name
}

// Bounds returns the bounds of v.
func (m *Model) Bounds(v Var) (lower, upper float64) {
	return m.vars[v].lower, m.vars[v].upper
}

// Binaries returns every binary variable in creation order.
func (m *Model) Binaries() []Var {
	var out []Var
	for i, v := range m.vars {
		if v.kind == Binary {
			out = append(out, Var(i))
		}
	}
	return out
}

// Describe renders the model size for logs.
func (m *Model) Describe() string {
	return fmt.Sprintf("%d vars (%d binary), %d rows", len(m.vars), len(m.Binaries()), len(m.constraints))
}

func (m *Model) bounds() (lower, upper []float64) {
	lower = make([]float64, len(m.vars))
	upper = make([]float64, len(m.vars))
	for i, v := range m.vars {
		lower[i] = v.lower
		upper[i] = v.upper
	}
	return lower, upper
}
