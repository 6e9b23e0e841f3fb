package bridge

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Message types exchanged with bridge clients.
const (
	TypeQuery        = "query"
	TypeTranscript   = "transcript"
	TypeAudio        = "audio"
	TypeResponse     = "response"
	TypeAction       = "action"
	TypeConfirmation = "confirmation"
)

// Message is one JSON frame on the bridge. Content is kept raw because
// agents reply with a plain string or with nested objects.
type Message struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	Query   string          `json:"query,omitempty"`
}

// TextMessage builds a message whose content is the JSON string text.
func TextMessage(typ, text string) Message {
	return Message{Type: typ, Content: quote(text)}
}

// QueryMessage builds the query frame sent to coding agents. The text is
// duplicated in the query field for clients that read either.
func QueryMessage(text string) Message {
	return Message{Type: TypeQuery, Content: quote(text), Query: text}
}

// AudioMessage carries reply audio as base64 text.
func AudioMessage(audio []byte) Message {
	return TextMessage(TypeAudio, base64.StdEncoding.EncodeToString(audio))
}

// Text returns the human-readable text of m: the reply text of its content,
// or else the query field.
func (m Message) Text() string {
	if s, ok := ReplyText(m.Content); ok {
		return s
	}
	return m.Query
}

func quote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// ReplyText extracts the reply text from a response content value. The
// accepted shapes are tried in order: a plain string, an object with a
// "text" string, an object whose "content" is a string, and an object whose
// "content" is an object with a "text" string. Blank strings never match.
func ReplyText(content json.RawMessage) (string, bool) {
	if len(content) == 0 {
		return "", false
	}
	if s, ok := jsonString(content); ok {
		return s, s != ""
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(content, &obj); err != nil {
		return "", false
	}
	if s, ok := jsonString(obj["text"]); ok && s != "" {
		return s, true
	}
	inner, ok := obj["content"]
	if !ok {
		return "", false
	}
	if s, ok := jsonString(inner); ok && s != "" {
		return s, true
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(inner, &nested); err != nil {
		return "", false
	}
	if s, ok := jsonString(nested["text"]); ok && s != "" {
		return s, true
	}
	return "", false
}

// jsonString decodes raw as a JSON string and trims it.
func jsonString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}
