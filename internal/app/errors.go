package app

// DomainError is the API-facing error shape. Status drives the HTTP response
// code, Code is the machine-readable constant clients switch on, and Details
// optionally carries field-level context (validation failures, retry hints).
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}
