package types

import "errors"

// Sentinel errors for matchkeeper operations.
var (
	// ErrResolution indicates the property resolver could not produce a value.
	// Fatal for the record being evaluated.
	ErrResolution = errors.New("property resolution failed")

	// ErrUnknownOperator indicates a rule type outside the operator catalog.
	// Fatal for the record being evaluated.
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrInvalidPattern indicates a regex operand that does not compile.
	ErrInvalidPattern = errors.New("invalid regular expression")

	// ErrUnknownPropertyKind indicates a property type the resolver does not support.
	ErrUnknownPropertyKind = errors.New("unknown property type")

	// ErrPathTooDeep indicates a field path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrInvalidPath indicates a field path that does not parse.
	ErrInvalidPath = errors.New("invalid field path")

	// ErrPathTraversal indicates a field path crossing a missing or null value.
	ErrPathTraversal = errors.New("cannot read property of undefined")

	// ErrRecordTooLarge indicates a record body exceeds MaxRecordSize.
	ErrRecordTooLarge = errors.New("record exceeds maximum size")

	// ErrNotAnObject indicates a record body that is not a JSON object.
	ErrNotAnObject = errors.New("record must be a JSON object")

	// ErrTooManyRules indicates a rule set larger than MaxRules.
	ErrTooManyRules = errors.New("too many rules")
)
