package webhook

// ErrorResponse is the JSON body for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MaxBodySize is the request body cap for all webhook endpoints.
const MaxBodySize = 1 << 20 // 1 MiB
