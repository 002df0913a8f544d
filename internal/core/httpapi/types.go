package httpapi

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/solatis/matchkeeper/internal/rules"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Rule    int    `json:"rule,omitempty"`
}

// Error codes.
const (
	CodeInvalidJSON  = "ERR_INVALID_JSON"
	CodeTooLarge     = "ERR_TOO_LARGE"
	CodeRecord       = "ERR_RECORD"
	CodeTimeout      = "ERR_TIMEOUT"
	CodeCanceled     = "ERR_CANCELED"
	CodeNotFound     = "ERR_NOT_FOUND"
	CodeInvalidInput = "ERR_INVALID_INPUT"
	CodeInternal     = "ERR_INTERNAL"
)

// RuleResponse is one normalized rule as listed by GET /v1/rules.
type RuleResponse struct {
	Index           int    `json:"index"`
	Property        string `json:"property"`
	PropertyType    string `json:"propertyType"`
	Operator        string `json:"type"`
	Value           any    `json:"value,omitempty"`
	ValueType       string `json:"valueType"`
	Value2          any    `json:"value2,omitempty"`
	Value2Type      string `json:"value2Type,omitempty"`
	CaseInsensitive bool   `json:"case,omitempty"`
}

func newRuleResponse(i int, r rules.Rule) RuleResponse {
	resp := RuleResponse{
		Index:           i + 1,
		Property:        r.Property,
		PropertyType:    string(r.PropertyType),
		Operator:        r.OperatorKey,
		Value:           r.Value,
		ValueType:       string(r.ValueType),
		CaseInsensitive: r.CaseInsensitive,
	}
	if r.HasValue2 {
		resp.Value2 = r.Value2
		resp.Value2Type = string(r.Value2Type)
	}
	return resp
}

func writeError(w http.ResponseWriter, r *http.Request, status int, resp ErrorResponse) {
	render.Status(r, status)
	render.JSON(w, r, resp)
}
