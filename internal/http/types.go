package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ChunkPayload is one chunk of an uploaded document. Metadata values
// are opaque strings attached to every search hit from this chunk.
type ChunkPayload struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UpsertDocumentRequest is the body for
// PUT /api/admin/assistants/:assistant_id/documents/:document_id.
// Chunk indexes are assigned from slice order.
type UpsertDocumentRequest struct {
	Chunks []ChunkPayload `json:"chunks"`
}

// UpsertDocumentResponse reports the stored chunk count.
type UpsertDocumentResponse struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

// DeleteDocumentResponse reports how many chunks were removed.
type DeleteDocumentResponse struct {
	DocumentID string `json:"document_id"`
	Deleted    int    `json:"deleted"`
}

// StatsResponse is the corpus footprint of one assistant scope.
type StatsResponse struct {
	AssistantID   string `json:"assistant_id"`
	DocumentCount int    `json:"document_count"`
	ChunkCount    int    `json:"chunk_count"`
	TotalBytes    int64  `json:"total_bytes"`
}

// ConversationMessage is one logged exchange entry.
type ConversationMessage struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	ContextUsed bool   `json:"context_used"`
	CreatedAt   string `json:"created_at"`
}

// ConversationMessagesResponse lists a conversation's messages in
// chronological order.
type ConversationMessagesResponse struct {
	ConversationID string                `json:"conversation_id"`
	Messages       []ConversationMessage `json:"messages"`
}
