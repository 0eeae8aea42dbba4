package views

// State is the UI state of one page action: Idle, Loading, Success or Error.
type State[T any] struct {
	Loading bool
	Data    T
	HasData bool
	Error   string
}

// Begin enters Loading and clears data and error.
func (s *State[T]) Begin() {
	var zero T
	*s = State[T]{Loading: true, Data: zero}
}

// Succeed stores data and clears the error.
func (s *State[T]) Succeed(data T) {
	s.Data = data
	s.HasData = true
	s.Error = ""
}

// Fail clears data and stores the user-facing error text.
func (s *State[T]) Fail(msg string) {
	var zero T
	s.Data = zero
	s.HasData = false
	s.Error = msg
}

// Finish leaves Loading.
func (s *State[T]) Finish() {
	s.Loading = false
}

// Failed reports whether the action ended in Error.
func (s *State[T]) Failed() bool {
	return s.Error != ""
}
