package responses

// successEnvelope wraps payloads for endpoints that do not define their own
// shape.
type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// ErrorEnvelope is the body of every failed request. Details only carry
// field-level validation output and gateway rejection reasons.
type ErrorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}
