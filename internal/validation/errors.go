package validation

import "strings"

// ValidationError describes one rejected request field. Value is left
// empty for secrets and for fields whose value is not useful to echo.
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Invalid builds a single-field rejection.
func Invalid(field, message string) ValidationErrors {
	return ValidationErrors{{Field: field, Message: message}}
}

// ValidationErrors collects every problem found in one request so the
// caller sees them together.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// Add records a problem with field.
func (e *ValidationErrors) Add(field, value, message string) {
	*e = append(*e, &ValidationError{Field: field, Value: value, Message: message})
}

// Check records err against field when err is non-nil.
func (e *ValidationErrors) Check(field, value string, err error) {
	if err != nil {
		e.Add(field, value, err.Error())
	}
}

// HasErrors reports whether anything was recorded.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Err returns the collection as an error, or nil when empty.
func (e ValidationErrors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
