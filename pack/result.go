package pack

// Result is what an action returns to the HTTP boundary
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	// Code is client script executed after the operation
	Code string `json:"code,omitempty"`
	// Raw results are serialized as Data alone
	Raw bool `json:"-"`
}

// OperationResult is a successful result with an optional message
func OperationResult(message string) Result {
	return Result{Success: true, Message: message}
}

// Failure is an unsuccessful result shown to the user
func Failure(message string) Result {
	return Result{Success: false, Message: message}
}

// JSONResult wraps data that is sent to the client as is
func JSONResult(data any) Result {
	return Result{Success: true, Data: data, Raw: true}
}

// Payload returns the value the boundary should serialize
func (r Result) Payload() any {
	if r.Raw {
		return r.Data
	}
	return r
}

// Rows is the payload of a grid rows request
type Rows struct {
	Rows  []map[string]any `json:"rows"`
	Total int              `json:"total"`
}
