package httputils

// RequestError is the body of every failed request
type RequestError struct {
	Error string `json:"error"`
	// Code is the machine readable error, e.g. REFERRAL_NOT_FOUND
	Code string `json:"code,omitempty"`
}
