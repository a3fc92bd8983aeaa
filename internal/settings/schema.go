// Package settings fetches boat settings schemas from the HS backend, keeps
// the per-boat values and reconciles the two into the view the settings page
// renders.
package settings

import (
	"sort"
	"strconv"
)

// Parameter is one configurable setting as published by the HS backend.
// Value maps the numeric option key (as a string) to its localized label.
type Parameter struct {
	ID    int               `json:"ID"`
	Name  string            `json:"Name"`
	Value map[string]string `json:"Value"`
}

// Group is a named collection of parameters.
type Group struct {
	GroupName  string      `json:"group_name"`
	Parameters []Parameter `json:"parameters"`
}

// Values holds the current setting values of one boat keyed by parameter ID.
// It is sparse: parameters without a stored value are absent.
type Values map[int]int

// Clone returns a copy of v.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Choice is one selectable value of a parameter.
type Choice struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

// Options returns the parameter's enum sorted numerically ascending. Keys
// that are not integers are skipped.
func (p Parameter) Options() []Choice {
	opts := make([]Choice, 0, len(p.Value))
	for k, label := range p.Value {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		opts = append(opts, Choice{Value: n, Label: label})
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Value < opts[j].Value })
	return opts
}

// Allows reports whether value is one of the parameter's options.
func (p Parameter) Allows(value int) bool {
	for _, o := range p.Options() {
		if o.Value == value {
			return true
		}
	}
	return false
}

// FindParameter returns the parameter with the given ID.
func FindParameter(schema []Group, id int) (Parameter, bool) {
	for _, g := range schema {
		for _, p := range g.Parameters {
			if p.ID == id {
				return p, true
			}
		}
	}
	return Parameter{}, false
}
