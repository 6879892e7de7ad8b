package types

// CandidateEntity is an entity proposed by the extraction collaborator. It is
// not yet resolved against the graph; the resolver decides whether it merges
// into an existing node or creates a new one.
type CandidateEntity struct {
	Name       string                 `json:"name"`
	Type       string                 `json:"type,omitempty"`
	Summary    string                 `json:"summary,omitempty"`
	Confidence float64                `json:"confidence"`
	Span       string                 `json:"span,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// CandidateEdge is a relationship proposed by the extraction collaborator.
// Source and target reference candidate entities by name; the resolver maps
// them to node ids after entity resolution.
type CandidateEdge struct {
	SourceName string  `json:"source_name"`
	TargetName string  `json:"target_name"`
	Label      string  `json:"label"`
	Fact       string  `json:"fact,omitempty"`
	Confidence float64 `json:"confidence"`
	Span       string  `json:"span,omitempty"`
}

// Extraction is the full output of one extraction call.
type Extraction struct {
	Entities []CandidateEntity `json:"entities"`
	Edges    []CandidateEdge   `json:"edges"`
}

// Usable reports whether the extraction produced anything the resolver can
// act on. Partial responses with edges but no entities are still usable:
// edge endpoints become implicit entity candidates.
func (x *Extraction) Usable() bool {
	return x != nil && (len(x.Entities) > 0 || len(x.Edges) > 0)
}
