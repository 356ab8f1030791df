package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a BundleError if the
// input is not already one. Nil stays nil.
func Wrap(err error, kind Kind, code, message string) *BundleError {
	if err == nil {
		return nil
	}

	// If it's already a BundleError, keep its location but record the new message
	var be *BundleError
	if errors.As(err, &be) {
		return &BundleError{
			Kind:    kind,
			Code:    code,
			Message: message,
			Path:    be.Path,
			URL:     be.URL,
			Cause:   be,
			Context: be.Context,
		}
	}

	return &BundleError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// FieldsOf flattens err into key/value pairs for the structured logger.
func FieldsOf(err error) []interface{} {
	var be *BundleError
	if !errors.As(err, &be) {
		return nil
	}

	fields := []interface{}{"error_kind", string(be.Kind), "error_code", be.Code}
	if be.Path != "" {
		fields = append(fields, "path", be.Path)
	}
	if be.URL != "" {
		fields = append(fields, "url", be.URL)
	}
	for k, v := range be.Context {
		fields = append(fields, k, v)
	}
	return fields
}

// Annotate records a context value on the outermost BundleError in err's
// chain and returns err.
func Annotate(err error, key string, value interface{}) error {
	var be *BundleError
	if errors.As(err, &be) {
		be.WithContext(key, value)
	}
	return err
}
