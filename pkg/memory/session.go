package memory

import "time"

// DefaultSessionTitle is used when a session is created without a title.
const DefaultSessionTitle = "New Conversation"

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Session groups the messages and memories of one conversation.
type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Messages  []*Message     `json:"messages,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata"`
}

// NewSession returns a session stamped with the current time.
func NewSession(title string) *Session {
	if title == "" {
		title = DefaultSessionTitle
	}
	now := time.Now().UTC()
	return &Session{
		ID:        NewID(PrefixSession),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
	}
}

// Message is a single exchange within a session.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// NewMessage returns a message with a fresh id and the current time.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        NewID(PrefixMessage),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{},
	}
}

// Metric is a named measurement recorded by the engine.
type Metric struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Value     float64        `json:"value"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// Metric names.
const (
	MetricCompressionRatio = "compression_ratio"
	MetricResponseTime     = "response_time_ms"
)

// Stats summarizes a session's memories.
type Stats struct {
	TotalMemories int       `json:"total_memories"`
	TotalTokens   int       `json:"total_tokens"`
	AvgRelevance  float64   `json:"avg_relevance"`
	Oldest        time.Time `json:"oldest"`
	Newest        time.Time `json:"newest"`
	SummaryCount  int       `json:"summary_count"`
}

// Span is the time between the oldest and newest memory.
func (s Stats) Span() time.Duration {
	if s.Oldest.IsZero() || s.Newest.IsZero() {
		return 0
	}
	return s.Newest.Sub(s.Oldest)
}
