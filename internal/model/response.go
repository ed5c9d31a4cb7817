package model

type ErrorResponse struct {
	Error *APIError `json:"error"`
}

type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}
