// Package http implements [trickle.Transport] over HTTP.
//
// A request is sent as a JSON POST carrying a bearer token. The response
// body is handed back unread so the caller can decode it chunk by chunk.
package http

const (
	defaultBaseURL = "https://ai-bot-bepyth.onrender.com"
	streamPath     = "/chat/stream"

	// maxErrorBody caps how much of a failed response is kept for the error.
	maxErrorBody = 4 << 10
)

// apiRequest is the JSON body sent to the streaming endpoint.
type apiRequest struct {
	Message   string `json:"message"`
	ThreadID  string `json:"thread_id"`
	SessionID string `json:"session_id"`
}

// apiErrorResponse is the error shape returned by the server for
// non-success statuses.
type apiErrorResponse struct {
	Detail string `json:"detail"`
}
