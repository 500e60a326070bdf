package models

import "net/http"

// Meta carries the counts of a result set
type Meta struct {
	Total       int `json:"total"`
	ResultCount int `json:"result_count"`
}

// HTTPStatus mirrors the response status inside the body
type HTTPStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Envelope is the uniform response shape of every endpoint
type Envelope struct {
	Meta       Meta       `json:"meta"`
	HTTPStatus HTTPStatus `json:"http_status"`
	Results    []any      `json:"results"`
}

// NewEnvelope wraps results in a successful envelope
func NewEnvelope(total int, results []any) *Envelope {
	if results == nil {
		results = []any{}
	}
	return &Envelope{
		Meta:       Meta{Total: total, ResultCount: len(results)},
		HTTPStatus: HTTPStatus{Code: http.StatusOK, Message: "OK"},
		Results:    results,
	}
}

// ErrorEnvelope wraps a failure
func ErrorEnvelope(code int, message string) *Envelope {
	return &Envelope{
		HTTPStatus: HTTPStatus{Code: code, Message: message},
		Results:    []any{},
	}
}
