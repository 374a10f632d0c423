package llm

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// AttachmentKind distinguishes inline images from text files.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a file or image sent alongside a user message.
// Data holds a data URL for images and raw text for files.
type Attachment struct {
	ID       string         `json:"id"`
	Kind     AttachmentKind `json:"type"`
	Name     string         `json:"name"`
	MimeType string         `json:"mimeType"`
	Data     string         `json:"data"`
	Preview  string         `json:"preview,omitempty"`
}

// Message is a single turn in a chat transcript.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Clone returns a copy of m that shares no slices with it.
func (m Message) Clone() Message {
	m.Attachments = CloneAttachments(m.Attachments)
	return m
}

// CloneAttachments copies a slice of attachments. A nil or empty input yields nil.
func CloneAttachments(in []Attachment) []Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attachment, len(in))
	copy(out, in)
	return out
}

// CloneMessages deep-copies a transcript.
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// LastUserMessage returns the most recent user message in the transcript.
func LastUserMessage(transcript []Message) (Message, bool) {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == RoleUser {
			return transcript[i], true
		}
	}
	return Message{}, false
}
