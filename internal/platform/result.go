package platform

// Result is the outcome of one platform call: a value or an error, never both.
type Result[T any] struct {
	val T
	err error
}

func Ok[T any](v T) Result[T] { return Result[T]{val: v} }

// Err builds a failed result. A nil err is replaced so the result still fails.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = errNilFailure
	}
	return Result[T]{err: err}
}

func (r Result[T]) IsOk() bool { return r.err == nil }

// Value returns the value, or the zero value of T for a failed result.
func (r Result[T]) Value() T { return r.val }

func (r Result[T]) Err() error { return r.err }

// Unwrap returns the conventional (value, error) pair.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// Map transforms the value of a successful result.
func Map[T, U any](r Result[T], f func(T) (U, error)) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	u, err := f(r.val)
	if err != nil {
		return Err[U](err)
	}
	return Ok(u)
}
