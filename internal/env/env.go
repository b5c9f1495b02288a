// Package env composes the environment handed to the main process.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers variables from lowest to highest priority:
// Defaults (values read from the project .env), the OS environment,
// Var (supervisor overrides such as TRADE_MODE) and finally per-call pairs.
type Env struct {
	Defaults Var
	Var      Var
	env      Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Defaults: make(Var),
		Var:      make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.env = Parse(os.Environ())
}

// WithBase replaces the OS layer, mainly for tests.
func (e *Env) WithBase(base Var) *Env {
	e.env = make(Var, len(base))
	for k, v := range base {
		e.env[k] = v
	}
	return e
}

// WithDefaults adds values that the OS environment may override.
func (e *Env) WithDefaults(m map[string]string) *Env {
	if e.Defaults == nil {
		e.Defaults = make(Var)
	}
	for k, v := range m {
		if k != "" {
			e.Defaults[k] = v
		}
	}
	return e
}

// WithSet sets an override K=V and returns e for chaining.
func (e *Env) WithSet(k, v string) *Env {
	e.Set(k, v)
	return e
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes an override.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Lookup returns the effective value of k without building the whole list.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.Var[k]; ok {
		return v, true
	}
	if e.env == nil {
		e.FromOS()
	}
	if v, ok := e.env[k]; ok {
		return v, true
	}
	v, ok := e.Defaults[k]
	return v, ok
}

// Merge composes the final environment list in "K=V" form, sorted by key,
// with ${VAR} expansion against the composed map (single pass, no recursion).
func (e *Env) Merge(perProc []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Defaults)+len(e.Var))
	for _, layer := range []Var{e.Defaults, e.env, e.Var, Parse(perProc)} {
		for k, v := range layer {
			if k == "" {
				continue
			}
			m[k] = v
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

// Parse converts "K=V" pairs into a map, skipping malformed entries.
func Parse(pairs []string) Var {
	m := make(Var, len(pairs))
	for _, kv := range pairs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
