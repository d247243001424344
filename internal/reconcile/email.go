// Package reconcile keeps the job tracker in step with the user's inbox.
//
// Recruiting emails are fetched from Gmail, reduced to sender, subject and
// body, and handed to a text model that edits the tracker through the same
// tool dispatcher the voice session uses.
package reconcile

import (
	"encoding/base64"
	"strings"

	"google.golang.org/api/gmail/v1"
)

// Email is the part of a message the reconciler reads.
type Email struct {
	ID      string
	From    string
	Subject string
	Body    string
}

// ExtractEmail pulls sender, subject and body out of a full-format Gmail
// message. The body is the payload's own data when present, otherwise the
// first text/plain or text/html part carrying data, searched depth first.
func ExtractEmail(msg *gmail.Message) Email {
	e := Email{ID: msg.Id}
	p := msg.Payload
	if p == nil {
		return e
	}
	for _, h := range p.Headers {
		if h == nil {
			continue
		}
		switch strings.ToLower(h.Name) {
		case "subject":
			e.Subject = h.Value
		case "from":
			e.From = h.Value
		}
	}
	if p.Body != nil && p.Body.Data != "" {
		e.Body = decodeBase64URL(p.Body.Data)
		return e
	}
	e.Body = walkParts(p.Parts)
	return e
}

func walkParts(parts []*gmail.MessagePart) string {
	for _, part := range parts {
		if part == nil {
			continue
		}
		if (part.MimeType == "text/plain" || part.MimeType == "text/html") && part.Body != nil && part.Body.Data != "" {
			return decodeBase64URL(part.Body.Data)
		}
		if len(part.Parts) > 0 {
			if body := walkParts(part.Parts); body != "" {
				return body
			}
		}
	}
	return ""
}

// decodeBase64URL decodes Gmail's URL-safe base64, with or without padding.
// Undecodable input yields "" and invalid UTF-8 sequences are dropped.
func decodeBase64URL(data string) string {
	if data == "" {
		return ""
	}
	if rem := len(data) % 4; rem != 0 {
		data += strings.Repeat("=", 4-rem)
	}
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return ""
	}
	return strings.ToValidUTF8(string(raw), "")
}

// Prompt renders e as the user turn given to the model. Bodies longer than
// maxBody bytes are cut at a rune boundary.
func (e Email) Prompt(maxBody int) string {
	body := e.Body
	if maxBody > 0 && len(body) > maxBody {
		body = strings.ToValidUTF8(body[:maxBody], "") + "\n[truncated]"
	}
	var b strings.Builder
	b.WriteString("From: ")
	b.WriteString(e.From)
	b.WriteString("\nSubject: ")
	b.WriteString(e.Subject)
	b.WriteString("\n\n")
	b.WriteString(body)
	return b.String()
}
