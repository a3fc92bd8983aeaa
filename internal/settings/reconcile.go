package settings

// ReconciledParameter is a parameter merged with the boat's current value.
type ReconciledParameter struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Options []Choice `json:"options"`
	// Current is nil only for display-only parameters without a stored value.
	Current *int `json:"current"`
	// Defaulted is set when no value was stored and Current is the lowest
	// option.
	Defaulted   bool `json:"defaulted"`
	DisplayOnly bool `json:"displayOnly"`
}

// ReconciledGroup is a schema group with reconciled parameters.
type ReconciledGroup struct {
	GroupName  string                `json:"groupName"`
	Parameters []ReconciledParameter `json:"parameters"`
}

// Reconcile merges schema and values. Values for IDs not present in the
// schema are ignored. A parameter without a value takes the numerically
// lowest option key.
func Reconcile(schema []Group, values Values) []ReconciledGroup {
	out := make([]ReconciledGroup, 0, len(schema))
	for _, g := range schema {
		rg := ReconciledGroup{
			GroupName:  g.GroupName,
			Parameters: make([]ReconciledParameter, 0, len(g.Parameters)),
		}
		for _, p := range g.Parameters {
			rg.Parameters = append(rg.Parameters, reconcileParameter(p, values))
		}
		out = append(out, rg)
	}
	return out
}

func reconcileParameter(p Parameter, values Values) ReconciledParameter {
	rp := ReconciledParameter{
		ID:      p.ID,
		Name:    p.Name,
		Options: p.Options(),
	}
	if len(rp.Options) == 0 {
		rp.DisplayOnly = true
	}

	if v, ok := values[p.ID]; ok {
		rp.Current = &v
		return rp
	}
	if !rp.DisplayOnly {
		lowest := rp.Options[0].Value
		rp.Current = &lowest
		rp.Defaulted = true
	}
	return rp
}
