package registry

import "slices"

// SpecInfo is the display form of a method spec, used by visualization
// consumers such as the specs command and the HTTP API.
type SpecInfo struct {
	Name          string   `json:"name"`
	Kind          string   `json:"kind"`
	Condition     string   `json:"condition,omitempty"`
	AcceptsResult bool     `json:"accepts_result"`
	Routes        []string `json:"routes,omitempty"`
}

// Describe returns one SpecInfo per method in registration order.
func (r *Registry) Describe() []SpecInfo {
	out := make([]SpecInfo, len(r.specs))
	for i, s := range r.specs {
		info := SpecInfo{
			Name:          s.Name,
			Kind:          s.Kind.String(),
			AcceptsResult: s.AcceptsResult,
			Routes:        slices.Clone(s.RouteLabels),
		}
		if s.Condition != nil {
			info.Condition = s.Condition.String()
		}
		out[i] = info
	}
	return out
}
