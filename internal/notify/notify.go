// Package notify wraps the outbound notification channels: SMTP email as the
// primary channel and a per-tenant chat webhook as the secondary one. The
// dispatcher decides what to send and to whom; this package only delivers.
package notify

import "context"

// Message is one rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// EmailSender delivers the primary notification channel.
type EmailSender interface {
	Send(ctx context.Context, msg Message) error
}

// MessageCard is the structured payload posted to a chat webhook.
type MessageCard struct {
	Type     string        `json:"@type"`
	Context  string        `json:"@context"`
	Title    string        `json:"title"`
	Text     string        `json:"text"`
	Sections []CardSection `json:"sections,omitempty"`
}

// CardSection is one block of a message card.
type CardSection struct {
	ActivityTitle string     `json:"activityTitle,omitempty"`
	ActivityText  string     `json:"activityText,omitempty"`
	Facts         []CardFact `json:"facts,omitempty"`
	Markdown      bool       `json:"markdown,omitempty"`
}

// CardFact is one name/value pair in a card section.
type CardFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ChatSender delivers the secondary notification channel.
type ChatSender interface {
	Post(ctx context.Context, webhookURL string, card MessageCard) error
}
