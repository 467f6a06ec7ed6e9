package model

// APIResponse is the envelope shared by the backend and the operator API.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Success wraps data in a successful envelope.
func Success[T any](data T) APIResponse[T] {
	return APIResponse[T]{Success: true, Data: data}
}

// Error returns a failed envelope carrying msg.
func Error(msg string) APIResponse[any] {
	return APIResponse[any]{Success: false, Error: msg}
}

// Succeeded reports the envelope's success flag.
func (r APIResponse[T]) Succeeded() bool { return r.Success }

// ErrorMessage returns the failure message, if any.
func (r APIResponse[T]) ErrorMessage() string { return r.Error }

// WithMessage returns a copy of r carrying msg.
func (r APIResponse[T]) WithMessage(msg string) APIResponse[T] {
	r.Message = msg
	return r
}
