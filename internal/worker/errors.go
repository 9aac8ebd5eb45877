package worker

import (
	"errors"
	"fmt"
)

// ErrAlreadyStarted is returned when Start is called on a task twice.
var ErrAlreadyStarted = errors.New("task already started")

// ErrorText renders an unexpected error as message data.
func ErrorText(err error) string {
	return fmt.Sprintf("An error of type %T occurred. Arguments:\n%q", err, err.Error())
}
