package dispatch

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

// PanicError wraps a value recovered from a handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

func (e *PanicError) StackTrace() string { return string(e.Stack) }

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Recover converts handler panics into errors handed to Dispatch.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func (d *Dispatcher) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			d.Dispatch(w, r, &PanicError{Value: v, Stack: debug.Stack()})
		}()
		next.ServeHTTP(w, r)
	})
}
