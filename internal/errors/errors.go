package apperrors

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	TypeConnection    ErrorType = "Connection"    // Server unreachable or credentials rejected
	TypeCatalog       ErrorType = "Catalog"       // Database enumeration query failed
	TypeDumpTool      ErrorType = "DumpTool"      // mysqldump missing or not executable
	TypeDumpFailed    ErrorType = "DumpFailed"    // Dump subprocess exited non-zero
	TypeDumpTimeout   ErrorType = "DumpTimeout"   // Dump exceeded the configured deadline
	TypeCompression   ErrorType = "Compression"   // Compression stage failure
	TypeStorageWrite  ErrorType = "StorageWrite"  // Backend put failed (quota, permission, network)
	TypeStorageList   ErrorType = "StorageList"   // Backend listing failed
	TypeStorageDelete ErrorType = "StorageDelete" // Backend delete failed
	TypeRetention     ErrorType = "Retention"     // One or more pruning deletes failed
	TypeConfig        ErrorType = "Config"        // Invalid flags, missing required params
	TypeAuth          ErrorType = "Auth"          // SSH keys, storage credentials
	TypeInternal      ErrorType = "Internal"      // Unexpected internal failure
)

// AppError is a rich error type that categorizes failures and carries hints for operators.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Hint    string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(t ErrorType, msg string, hint string) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Hint:    hint,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, t ErrorType, msg string, hint string) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Err:     err,
		Hint:    hint,
	}
}

// KindOf reports the ErrorType of err, unwrapping as needed.
// Errors that never passed through this package report TypeInternal.
func KindOf(err error) ErrorType {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type
	}
	return TypeInternal
}

// IsType reports whether err (or any error it wraps) carries the given type.
func IsType(err error, t ErrorType) bool {
	return KindOf(err) == t
}
