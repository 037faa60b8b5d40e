package smime

// Result is the outcome of an asynchronous operation.
type Result[T any] struct {
	Value T
	Err   error
}

// async runs fn on its own goroutine. The channel receives exactly one
// Result and is then closed.
func async[T any](fn func() (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		v, err := fn()
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}

// failed returns a channel that already holds err.
func failed[T any](err error) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	ch <- Result[T]{Err: err}
	close(ch)
	return ch
}
