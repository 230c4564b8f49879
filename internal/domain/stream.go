package domain

// ChatEvent is one classified frame of a chat-completion stream.
// The set of implementations is closed: TextDelta, AgentEnd, StreamError and
// Ignored. Consumers switch on the concrete type.
type ChatEvent interface {
	chatEvent()
}

// TextDelta is an incremental text fragment of the in-progress assistant reply.
type TextDelta struct {
	Delta string `json:"delta"`
}

// AgentEnd is the terminal aggregate carrying the server's final message list.
// Skills is nil when the frame carried no skills array; Model and Provider are
// empty when absent or not string-typed.
type AgentEnd struct {
	Messages []ModelMessage `json:"messages"`
	Skills   []string       `json:"skills,omitempty"`
	Model    string         `json:"model,omitempty"`
	Provider string         `json:"provider,omitempty"`
}

// StreamError is a failure reported by the server inside the stream.
type StreamError struct {
	Message string `json:"message"`
}

// Ignored marks a frame that was understood but carries nothing for the
// session, such as heartbeats or frame kinds newer than this client.
type Ignored struct {
	Type string `json:"type,omitempty"`
}

func (TextDelta) chatEvent()   {}
func (AgentEnd) chatEvent()    {}
func (StreamError) chatEvent() {}
func (Ignored) chatEvent()     {}
