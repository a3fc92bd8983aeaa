package model

// Response is the uniform envelope of every API response.
type Response struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *ErrorEnvelope `json:"error,omitempty"`
}

// OK wraps data in a successful envelope.
func OK(data any) Response {
	return Response{Success: true, Data: data}
}

// Failed wraps an error in a failed envelope.
func Failed(err *ErrorEnvelope) Response {
	return Response{Success: false, Error: err}
}
