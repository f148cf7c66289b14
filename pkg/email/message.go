// Package email defines the wire payload model for Azure Communication
// Services email send requests and status reports.
package email

import (
	"errors"
	"fmt"
	"strings"
)

// Service-side cap on the combined encoded size of a message's attachments.
const maxAttachmentBytes = 10 << 20

// Address is a single recipient or sender entry.
type Address struct {
	Address     string `json:"address"`
	DisplayName string `json:"displayName,omitempty"`
}

// Content carries the subject and body variants of a message.
type Content struct {
	Subject   string `json:"subject"`
	PlainText string `json:"plainText,omitempty"`
	HTML      string `json:"html,omitempty"`
}

// Recipients groups the destination lists of a message.
type Recipients struct {
	To  []Address `json:"to,omitempty"`
	Cc  []Address `json:"cc,omitempty"`
	Bcc []Address `json:"bcc,omitempty"`
}

// Message is the validated send payload. Field names are wire-exact;
// construct instances through NewMessage so invalid payloads are rejected
// before any network activity.
type Message struct {
	Headers                        map[string]string `json:"headers,omitempty"`
	SenderAddress                  string            `json:"senderAddress"`
	Content                        Content           `json:"content"`
	Recipients                     Recipients        `json:"recipients"`
	Attachments                    []Attachment      `json:"attachments,omitempty"`
	ReplyTo                        []Address         `json:"replyTo,omitempty"`
	UserEngagementTrackingDisabled *bool             `json:"userEngagementTrackingDisabled,omitempty"`
}

// MessageOption customizes the optional parts of a message.
type MessageOption func(*Message)

// WithHeader adds a custom header to the message. Headers serialize as a
// JSON object with keys in sorted order.
func WithHeader(name, value string) MessageOption {
	return func(m *Message) {
		if m.Headers == nil {
			m.Headers = make(map[string]string)
		}
		m.Headers[name] = value
	}
}

// WithHeaders adds a set of custom headers to the message.
func WithHeaders(headers map[string]string) MessageOption {
	return func(m *Message) {
		for name, value := range headers {
			WithHeader(name, value)(m)
		}
	}
}

// WithAttachments appends attachments to the message.
func WithAttachments(attachments ...Attachment) MessageOption {
	return func(m *Message) {
		m.Attachments = append(m.Attachments, attachments...)
	}
}

// WithReplyTo sets the reply-to addresses of the message.
func WithReplyTo(addresses ...Address) MessageOption {
	return func(m *Message) {
		m.ReplyTo = append(m.ReplyTo, addresses...)
	}
}

// WithUserEngagementTrackingDisabled controls the engagement tracking opt-out
// flag. The field is omitted from the wire payload unless explicitly set.
func WithUserEngagementTrackingDisabled(disabled bool) MessageOption {
	return func(m *Message) {
		m.UserEngagementTrackingDisabled = &disabled
	}
}

// NewMessage assembles and validates a send payload. Recipient lists are
// trimmed and deduplicated; a message that would be rejected by the service
// (no sender, no recipients, no subject, no body) fails here instead.
func NewMessage(sender string, recipients Recipients, content Content, opts ...MessageOption) (*Message, error) {
	msg := &Message{
		SenderAddress: strings.TrimSpace(sender),
		Content:       content,
		Recipients:    recipients,
	}
	for _, opt := range opts {
		opt(msg)
	}
	msg.normalize()
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate normalizes the message in place and reports whether the service
// would accept the payload. NewMessage runs this automatically; callers
// assembling a Message literal can invoke it directly.
func (m *Message) Validate() error {
	m.normalize()
	return m.validate()
}

func (m *Message) normalize() {
	m.SenderAddress = strings.TrimSpace(m.SenderAddress)
	m.Content.Subject = strings.TrimSpace(m.Content.Subject)
	m.Recipients.To = normalizeAddressList(m.Recipients.To)
	m.Recipients.Cc = normalizeAddressList(m.Recipients.Cc)
	m.Recipients.Bcc = normalizeAddressList(m.Recipients.Bcc)
	m.ReplyTo = normalizeAddressList(m.ReplyTo)
}

func (m *Message) validate() error {
	if m.SenderAddress == "" {
		return errors.New("sender address is required")
	}
	totalRecipients := len(m.Recipients.To) + len(m.Recipients.Cc) + len(m.Recipients.Bcc)
	if totalRecipients == 0 {
		return errors.New("at least one recipient is required")
	}
	if m.Content.Subject == "" {
		return errors.New("email subject is required")
	}
	if strings.TrimSpace(m.Content.PlainText) == "" && strings.TrimSpace(m.Content.HTML) == "" {
		return errors.New("email body is required (plain text or html)")
	}
	var attachmentBytes int
	for _, attachment := range m.Attachments {
		if err := attachment.validate(); err != nil {
			return err
		}
		attachmentBytes += len(attachment.ContentInBase64)
	}
	if attachmentBytes > maxAttachmentBytes {
		return fmt.Errorf("attachments exceed the %d byte limit", maxAttachmentBytes)
	}
	return nil
}

func normalizeAddressList(list []Address) []Address {
	if len(list) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]Address, 0, len(list))
	for _, entry := range list {
		address := strings.TrimSpace(entry.Address)
		if address == "" {
			continue
		}
		key := strings.ToLower(address)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Address{Address: address, DisplayName: strings.TrimSpace(entry.DisplayName)})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
