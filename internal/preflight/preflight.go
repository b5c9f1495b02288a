// Package preflight runs ordered readiness checks. Every probe is evaluated;
// a failing or panicking probe becomes a report entry, never an error.
package preflight

import (
	"context"
	"fmt"
)

// Outcome is the tri-state result of a probe.
type Outcome int

const (
	Pass Outcome = iota
	Fail
	// Unknown means the check could not be decided; it is not a failure.
	Unknown
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Marker is the checklist glyph for o.
func (o Outcome) Marker() string {
	switch o {
	case Pass:
		return "✓"
	case Fail:
		return "✗"
	default:
		return "–"
	}
}

// Result is one evaluated probe.
type Result struct {
	Label   string  `json:"label"`
	Outcome Outcome `json:"-"`
	Detail  string  `json:"detail,omitempty"`
}

func (r Result) Passed() bool { return r.Outcome == Pass }

// Probe is a stateless readiness check.
type Probe interface {
	Label() string
	Evaluate(ctx context.Context) Result
}

// Func adapts a function to Probe.
type Func struct {
	Name string
	Fn   func(ctx context.Context) (Outcome, string)
}

func (f Func) Label() string { return f.Name }

func (f Func) Evaluate(ctx context.Context) Result {
	o, d := f.Fn(ctx)
	return Result{Label: f.Name, Outcome: o, Detail: d}
}

// Check builds a pass/fail probe from an error-returning function.
func Check(name string, fn func(ctx context.Context) (string, error)) Func {
	return Func{Name: name, Fn: func(ctx context.Context) (Outcome, string) {
		detail, err := fn(ctx)
		if err != nil {
			return Fail, err.Error()
		}
		return Pass, detail
	}}
}

// Report is the ordered outcome of a run.
type Report struct {
	Results []Result
}

// OK reports whether no entry failed. Unknown entries do not count.
func (r Report) OK() bool {
	for _, res := range r.Results {
		if res.Outcome == Fail {
			return false
		}
	}
	return true
}

// Failed returns the failing entries in order.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Outcome == Fail {
			out = append(out, res)
		}
	}
	return out
}

// Run evaluates every probe in order without short-circuiting.
func Run(ctx context.Context, probes ...Probe) Report {
	rep := Report{Results: make([]Result, 0, len(probes))}
	for _, p := range probes {
		rep.Results = append(rep.Results, evaluate(ctx, p))
	}
	return rep
}

func evaluate(ctx context.Context, p Probe) (res Result) {
	label := p.Label()
	defer func() {
		if r := recover(); r != nil {
			res = Result{Label: label, Outcome: Fail, Detail: fmt.Sprintf("panic: %v", r)}
		}
	}()
	res = p.Evaluate(ctx)
	res.Label = label
	return res
}
