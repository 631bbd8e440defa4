package timeline

// NavigationError reports a back/forward/commit call with no target. It is a
// normal negative result, not a fault.
type NavigationError struct {
	Reason string
}

func (e *NavigationError) Error() string {
	return e.Reason
}

var (
	ErrCannotGoBack    = &NavigationError{Reason: "cannot go back"}
	ErrCannotGoForward = &NavigationError{Reason: "cannot go forward"}
	ErrNothingToCommit = &NavigationError{Reason: "nothing to commit"}
)
