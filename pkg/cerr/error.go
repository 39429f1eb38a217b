package cerr

import (
	"errors"
	"fmt"
	"runtime"
)

type Error struct {
	Code  Code
	Msg   string // message returned to the caller alongside the code
	Err   error  // underlying error, kept for logs
	Stack string
}

func NewError(code Code, msg string, underlying error) *Error {
	err := &Error{
		Code: code,
		Msg:  msg,
		Err:  underlying,
	}
	if code.serverClass() {
		stack := make([]byte, 2048)
		n := runtime.Stack(stack, false)
		err.Stack = string(stack[:n])
	}
	return err
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code.String(), e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code.String(), e.Msg, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsCode(err error, code Code) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code == code
	}
	return false
}

