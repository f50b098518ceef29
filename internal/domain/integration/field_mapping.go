package integration

// TransformKind names a built-in value transformation applied while
// mapping a source field to a target field. An unrecognized name is a
// no-op passthrough: an unknown transformation must not crash a sync.
type TransformKind string

const (
	TransformNone      TransformKind = ""
	TransformUppercase TransformKind = "uppercase"
	TransformLowercase TransformKind = "lowercase"
	TransformTrim      TransformKind = "trim"
	// TransformDateISO renders time values as ISO-8601 strings
	TransformDateISO TransformKind = "date_iso"
	TransformBoolean TransformKind = "boolean"
	TransformNumber  TransformKind = "number"
	TransformString  TransformKind = "string"
)

// FieldMapping is a declarative rule translating one source field to one
// target field. Rules are static configuration consumed by the field
// transformer; they are not mutated at runtime.
type FieldMapping struct {
	// SourceField is a dotted path into the source record
	SourceField string `json:"source_field"`
	// TargetField is a dotted path into the target record; intermediate
	// containers are created as needed
	TargetField string `json:"target_field"`
	// Transform is an optional named transformation
	Transform TransformKind `json:"transform,omitempty"`
	// Expression is an optional expr script evaluated against the
	// transformed value (bound as `value`) and the full source record
	// (bound as `record`); it runs after the named transform
	Expression string `json:"expression,omitempty"`
	// Required fails the whole transform when the source field is absent.
	// Only a missing key counts as absent; empty-but-present is allowed.
	Required bool `json:"required,omitempty"`
}
