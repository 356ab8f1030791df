package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorises failures of the bundling subsystem.
type Kind string

const (
	KindFileNotFound         Kind = "file_not_found"
	KindMissingFile          Kind = "missing_file"
	KindRead                 Kind = "read"
	KindWrite                Kind = "write"
	KindDirectoryUnavailable Kind = "directory_unavailable"
	KindLockTimeout          Kind = "lock_timeout"
	KindLockBusy             Kind = "lock_busy"
	KindPublish              Kind = "publish"
	KindConfig               Kind = "config"
	KindInternal             Kind = "internal"
)

// Common error codes.
const (
	ErrCodeFileNotFound       = "ERR_FILE_NOT_FOUND"
	ErrCodeNoMinified         = "ERR_NO_MINIFIED"
	ErrCodeStatFailed         = "ERR_STAT_FAILED"
	ErrCodeReadFailed         = "ERR_READ_FAILED"
	ErrCodeWriteFailed        = "ERR_WRITE_FAILED"
	ErrCodeRenameFailed       = "ERR_RENAME_FAILED"
	ErrCodeWorkDir            = "ERR_WORK_DIR"
	ErrCodeLockTimeout        = "ERR_LOCK_TIMEOUT"
	ErrCodeLockBusy           = "ERR_LOCK_BUSY"
	ErrCodePublishFailed      = "ERR_PUBLISH_FAILED"
	ErrCodeConfigInvalid      = "ERR_CONFIG_INVALID"
	ErrCodeUnsupportedBackend = "ERR_UNSUPPORTED_BACKEND"
)

// Sentinel errors for the lock protocol. BundleErrors of the matching kind
// compare equal to them with errors.Is.
var (
	ErrLockTimeout = &BundleError{Kind: KindLockTimeout, Code: ErrCodeLockTimeout, Message: "lock not acquired in time"}
	ErrLockBusy    = &BundleError{Kind: KindLockBusy, Code: ErrCodeLockBusy, Message: "lock held by another build"}
)

// BundleError is a structured error with the file and URL it concerns.
type BundleError struct {
	Kind    Kind
	Code    string
	Message string
	Path    string
	URL     string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *BundleError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.URL != "" {
		parts = append(parts, "url:"+e.URL)
	}
	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)
	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *BundleError) Unwrap() error {
	return e.Cause
}

// Is matches another BundleError of the same kind and code.
func (e *BundleError) Is(target error) bool {
	var t *BundleError
	if errors.As(target, &t) {
		return e.Kind == t.Kind && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *BundleError) WithContext(key string, value interface{}) *BundleError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithURL records the declared resource URL the error concerns.
func (e *BundleError) WithURL(url string) *BundleError {
	e.URL = url

	return e
}

// Error creation functions

// NewFileNotFoundError reports a declared URL that does not resolve to a file.
func NewFileNotFoundError(url, path string, cause error) *BundleError {
	return &BundleError{
		Kind:    KindFileNotFound,
		Code:    ErrCodeFileNotFound,
		Message: "file not found",
		URL:     url,
		Path:    path,
		Cause:   cause,
	}
}

// NewMissingFileError reports a source whose modification time cannot be read.
func NewMissingFileError(path string, cause error) *BundleError {
	return &BundleError{
		Kind:    KindMissingFile,
		Code:    ErrCodeStatFailed,
		Message: "unable to get last modification time",
		Path:    path,
		Cause:   cause,
	}
}

// NewReadError reports an unreadable source during concatenation.
func NewReadError(path string, cause error) *BundleError {
	return &BundleError{
		Kind:    KindRead,
		Code:    ErrCodeReadFailed,
		Message: "failed to get contents",
		Path:    path,
		Cause:   cause,
	}
}

// NewWriteError reports a destination that cannot be written.
func NewWriteError(code, path string, cause error) *BundleError {
	return &BundleError{
		Kind:    KindWrite,
		Code:    code,
		Message: "failed to write",
		Path:    path,
		Cause:   cause,
	}
}

// NewDirectoryError reports a working directory that cannot be created.
func NewDirectoryError(path string, cause error) *BundleError {
	return &BundleError{
		Kind:    KindDirectoryUnavailable,
		Code:    ErrCodeWorkDir,
		Message: "unable to create directory",
		Path:    path,
		Cause:   cause,
	}
}

// NewPublishError reports a failure of the asset publisher.
func NewPublishError(path string, cause error) *BundleError {
	return &BundleError{
		Kind:    KindPublish,
		Code:    ErrCodePublishFailed,
		Message: "failed to publish",
		Path:    path,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *BundleError {
	return &BundleError{
		Kind:    KindConfig,
		Code:    code,
		Message: message,
	}
}

// NewLockTimeoutError reports a lock that was not acquired before ctx ended.
func NewLockTimeoutError(name string, cause error) *BundleError {
	return &BundleError{
		Kind:    KindLockTimeout,
		Code:    ErrCodeLockTimeout,
		Message: "lock not acquired in time",
		Path:    name,
		Cause:   cause,
	}
}

// NewLockBusyError reports a lock held elsewhere under the best-effort policy.
func NewLockBusyError(name string) *BundleError {
	return &BundleError{
		Kind:    KindLockBusy,
		Code:    ErrCodeLockBusy,
		Message: "lock held by another build",
		Path:    name,
	}
}

// KindOf returns the Kind of the outermost BundleError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var be *BundleError
	if errors.As(err, &be) {
		return be.Kind
	}

	return KindInternal
}

// CodeOf returns the Code of the outermost BundleError in err's chain.
func CodeOf(err error) string {
	var be *BundleError
	if errors.As(err, &be) {
		return be.Code
	}

	return ""
}

// IsKind reports whether any BundleError in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var be *BundleError
		if !errors.As(err, &be) {
			return false
		}
		if be.Kind == kind {
			return true
		}
		err = be.Cause
	}

	return false
}

// IsFileNotFound reports whether err stems from an unresolvable resource.
func IsFileNotFound(err error) bool {
	return IsKind(err, KindFileNotFound)
}
