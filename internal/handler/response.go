package handler

// API envelope statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the envelope every JSON endpoint returns. Data carries the
// payload on success; Message carries the reason on error.
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{Status: StatusSuccess, Data: data}
}

func NewErrorResponse(message string) *Response {
	return &Response{Status: StatusError, Message: message}
}
