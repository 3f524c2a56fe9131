package model

// FieldSpec declares one scalar field of a document layout. Default is the
// value a delete resets the field to (and the value new documents start
// with when the creator supplies none).
type FieldSpec struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// CollectionSpec declares one named ordered collection. Required lists the
// element fields every inserted element must carry.
type CollectionSpec struct {
	Name     string   `json:"name"`
	Required []string `json:"required,omitempty"`
}

// Schema is the declared layout of a document: its scalar fields and its
// ordered collections. The engine validates every path and every inserted
// element against it; element-level validation is deliberately this
// shallow (required fields only) because element internals belong to the
// owning service.
type Schema struct {
	Fields      []FieldSpec      `json:"fields"`
	Collections []CollectionSpec `json:"collections"`
}

// Field looks up a scalar field declaration by name.
func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Collection looks up a collection declaration by name.
func (s Schema) Collection(name string) (CollectionSpec, bool) {
	for _, c := range s.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return CollectionSpec{}, false
}

// PlanSchema is the educational-plan layout served by the CLI: the scalar
// fields of a plan plus its goal and accommodation collections.
func PlanSchema() Schema {
	return Schema{
		Fields: []FieldSpec{
			{Name: "title", Required: true},
			{Name: "student_id", Required: true},
			{Name: "present_levels"},
			{Name: "start_date"},
			{Name: "end_date"},
		},
		Collections: []CollectionSpec{
			{Name: "goals", Required: []string{"title"}},
			{Name: "accommodations", Required: []string{"description"}},
		},
	}
}
