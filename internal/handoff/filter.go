package handoff

// Message is one turn of a conversational history.
type Message struct {
	Role    string `json:"role"` // user, assistant, tool, system
	Content string `json:"content"`
}

// Filter produces the context view a receiving agent sees.
type Filter func(messages []Message) []Message

// Summarizer condenses a history into a single message. The default is
// the identity summarizer, which keeps the history unchanged.
type Summarizer interface {
	Summarize(messages []Message) []Message
}

// KeepAll passes the history through untouched.
func KeepAll(messages []Message) []Message { return messages }

// RemoveAllTools strips tool messages.
func RemoveAllTools(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "tool" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// UserMessagesOnly keeps only user turns.
func UserMessagesOnly(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "user" {
			out = append(out, m)
		}
	}
	return out
}

// LastN keeps the trailing k messages.
func LastN(k int) Filter {
	return func(messages []Message) []Message {
		if k <= 0 || len(messages) <= k {
			return messages
		}
		return messages[len(messages)-k:]
	}
}

// Summarize delegates to the collaborator; a nil summarizer is the
// identity.
func Summarize(s Summarizer) Filter {
	return func(messages []Message) []Message {
		if s == nil {
			return messages
		}
		return s.Summarize(messages)
	}
}
