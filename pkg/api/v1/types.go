package v1

// CreateSessionRequest is the body for POST /api/public/sessions/create.
type CreateSessionRequest struct {
	ProjectID      string `json:"project_id"`
	UserIdentifier string `json:"user_identifier,omitempty"`
}

// CreateSessionResponse returns a freshly minted session token.
// The token is a bearer credential; it is never logged or stored raw
// anywhere except this response.
type CreateSessionResponse struct {
	SessionToken string `json:"session_token"`
	ExpiresAt    string `json:"expires_at"`
	ProjectID    string `json:"project_id"`
}

// MessageRequest is the body for POST /api/public/assistants/message.
type MessageRequest struct {
	SessionToken string `json:"session_token"`
	AssistantID  string `json:"assistant_id"`
	Message      string `json:"message"`
}

// Source cites one retrieved chunk that grounded the answer.
type Source struct {
	DocumentID     string  `json:"document_id"`
	ChunkIndex     int     `json:"chunk_index"`
	Similarity     float32 `json:"similarity_score"`
	ContentPreview string  `json:"content_preview"`
}

// MessageResponse is the answer to a query.
type MessageResponse struct {
	Message          string   `json:"message"`
	ConversationID   string   `json:"conversation_id"`
	Sources          []Source `json:"sources,omitempty"`
	ContextUsed      bool     `json:"context_used"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
}

// ProjectInfoResponse is the safe, public view of a project.
type ProjectInfoResponse struct {
	ProjectID         string     `json:"project_id"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	AllowedAssistants []string   `json:"allowed_assistants"`
	SessionDuration   string     `json:"session_duration"`
	RateLimits        RateLimits `json:"rate_limits"`
}

// RateLimits is the public view of a project's quota configuration.
type RateLimits struct {
	RequestsPerMinute  int `json:"requests_per_minute"`
	RequestsPerDay     int `json:"requests_per_day"`
	RequestsPerSession int `json:"requests_per_session"`
}

// ErrorResponse is the uniform error body returned by the HTTP layer.
type ErrorResponse struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Limits  []WindowUsage `json:"limits,omitempty"`
}
