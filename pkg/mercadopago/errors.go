package mercadopago

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// GatewayError is a non-2xx answer from the gateway.
type GatewayError struct {
	HTTPStatus int
	// Code is the most specific reason available: the first cause code, the
	// error slug, or a payment status_detail for synchronous rejections.
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway status %d: %s", e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("gateway status %d (%s): %s", e.HTTPStatus, e.Code, e.Message)
}

// Rejected reports whether the gateway refused the request itself, meaning no
// charge was opened. Credential failures are not rejections of the buyer.
func (e *GatewayError) Rejected() bool {
	if e == nil {
		return false
	}
	switch e.HTTPStatus {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return false
	}
	return e.HTTPStatus >= 400 && e.HTTPStatus < 500
}

// NotOpened reports whether the gateway answered the charge call with a client
// error, so no charge exists for the request.
func (e *GatewayError) NotOpened() bool {
	return e != nil && e.HTTPStatus >= 400 && e.HTTPStatus < 500
}

// AsGatewayError unwraps err into a *GatewayError.
func AsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

type apiErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Cause   []struct {
		Code        json.RawMessage `json:"code"`
		Description string          `json:"description"`
	} `json:"cause"`
}

func parseGatewayError(status int, raw []byte) *GatewayError {
	gwErr := &GatewayError{HTTPStatus: status, Message: strings.TrimSpace(string(raw))}

	var body apiErrorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return gwErr
	}
	if body.Message != "" {
		gwErr.Message = body.Message
	}
	gwErr.Code = body.Error
	if len(body.Cause) > 0 {
		if code := causeCode(body.Cause[0].Code); code != "" {
			gwErr.Code = code
		}
		if body.Cause[0].Description != "" {
			gwErr.Message = body.Cause[0].Description
		}
	}
	return gwErr
}

// causeCode accepts both numeric and string cause codes.
func causeCode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return ""
}
