// internal/types/rules.go
package types

/*
 * Domain types for rule configuration.
 *
 * RawRule is the configuration shape of one comparison rule as it arrives from
 * a rule file or an API call. internal/rules normalizes it into an immutable
 * rules.Rule before first evaluation.
 *
 * Key types:
 *   - RawRule: one configured comparison, unnormalized
 *   - PropertyKind: how an identifier is turned into a value
 *   - PathSegment: one component of a nested field path
 */

// PropertyKind selects how the property resolver interprets an identifier.
type PropertyKind string

const (
	KindMsg    PropertyKind = "msg"
	KindFlow   PropertyKind = "flow"
	KindGlobal PropertyKind = "global"
	KindStr    PropertyKind = "str"
	KindNum    PropertyKind = "num"
	KindBool   PropertyKind = "bool"
	KindJSON   PropertyKind = "json"
	KindBin    PropertyKind = "bin"
	KindDate   PropertyKind = "date"
	KindEnv    PropertyKind = "env"
	KindExpr   PropertyKind = "expr"

	// KindPrev is valid only for value/value2 and means "use the rule's
	// previous test value" instead of resolving a fresh reference.
	KindPrev PropertyKind = "prev"
)

// Known reports whether k is a kind the resolver or the evaluator understands.
func (k PropertyKind) Known() bool {
	switch k {
	case KindMsg, KindFlow, KindGlobal, KindStr, KindNum, KindBool,
		KindJSON, KindBin, KindDate, KindEnv, KindExpr, KindPrev:
		return true
	default:
		return false
	}
}

// RawRule is one comparison rule as configured.
// Value and Value2 hold literals or references depending on their types.
// A nil Value2 means the rule has no second operand.
type RawRule struct {
	Property     string       `json:"property" yaml:"property" mapstructure:"property"`
	PropertyType PropertyKind `json:"propertyType,omitempty" yaml:"propertyType,omitempty" mapstructure:"propertyType"`
	Type         string       `json:"type" yaml:"type" mapstructure:"type"`
	Value        any          `json:"value,omitempty" yaml:"value,omitempty" mapstructure:"value"`
	ValueType    PropertyKind `json:"valueType,omitempty" yaml:"valueType,omitempty" mapstructure:"valueType"`
	Value2       any          `json:"value2,omitempty" yaml:"value2,omitempty" mapstructure:"value2"`
	Value2Type   PropertyKind `json:"value2Type,omitempty" yaml:"value2Type,omitempty" mapstructure:"value2Type"`
	Case         bool         `json:"case,omitempty" yaml:"case,omitempty" mapstructure:"case"`
}

// PathSegment represents one component of a field path.
type PathSegment struct {
	Key     string // object key (mutually exclusive with Index)
	Index   int    // array index (mutually exclusive with Key)
	IsIndex bool   // disambiguates Index=0 from unset
}
