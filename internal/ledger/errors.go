package ledger

import "fmt"

// Category tags the error taxonomy from the error-handling design: bad
// input is user-recoverable and returned to the submitter; the rest are
// operational failures that get logged at the call site.
type Category string

const (
	CategoryInvalidInput Category = "invalid_input"
	CategoryNotFound     Category = "not_found"
	CategoryStorage      Category = "storage"
	CategoryProtocol     Category = "protocol"
	CategoryFatal        Category = "fatal"
)

// Error is a tagged ledger error. Handlers branch on Category via
// errors.As, never on message text.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func invalidInput(format string, args ...interface{}) *Error {
	return &Error{Category: CategoryInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...interface{}) *Error {
	return &Error{Category: CategoryNotFound, Message: fmt.Sprintf(format, args...)}
}

func storageErr(err error) *Error {
	return &Error{Category: CategoryStorage, Message: "storage operation failed", Err: err}
}
