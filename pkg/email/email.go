// Package email validates subject contact addresses and delivers
// verification tokens.
package email

import (
	"context"
	"fmt"
	"net/mail"
	"net/smtp"
	"strings"
	"sync"
	"time"
	"unicode"

	dErrors "dsrengine/pkg/domain-errors"
)

const maxAddressLength = 254

// Normalize validates a contact address and returns it lower-cased without
// a display name.
func Normalize(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "", dErrors.New(dErrors.CodeValidation, "contact address is required")
	}
	if len(trimmed) > maxAddressLength {
		return "", dErrors.New(dErrors.CodeValidation, "contact address is too long")
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || parsed.Name != "" {
		return "", dErrors.New(dErrors.CodeValidation, "contact address is not a valid email address")
	}
	return strings.ToLower(parsed.Address), nil
}

// DeriveNameFromEmail guesses a first and last name from the local part.
func DeriveNameFromEmail(email string) (string, string) {
	localPart := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		localPart = email[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	if len(parts) == 0 {
		return "User", "User"
	}

	first := capitalize(parts[0])
	last := "User"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}

	return first, last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// Message is a rendered token mail.
type Message struct {
	To      string
	Subject string
	Body    string
	Token   string
}

// TokenMessage renders the verification mail for contact.
func TokenMessage(contact, token string, expiresAt time.Time) Message {
	first, _ := DeriveNameFromEmail(contact)
	body := fmt.Sprintf("Hello %s,\r\n\r\nYour verification code is %s. It expires at %s.\r\n\r\n"+
		"If you did not submit a data subject request, ignore this message.\r\n",
		first, token, expiresAt.UTC().Format(time.RFC1123))
	return Message{
		To:      contact,
		Subject: "Your data request verification code",
		Body:    body,
		Token:   token,
	}
}

// SMTPNotifier mails tokens through a relay.
type SMTPNotifier struct {
	addr string
	from string
	auth smtp.Auth
}

func NewSMTPNotifier(addr, from, username, password string) *SMTPNotifier {
	n := &SMTPNotifier{addr: addr, from: from}
	if username != "" {
		host := addr
		if i := strings.LastIndexByte(addr, ':'); i > 0 {
			host = addr[:i]
		}
		n.auth = smtp.PlainAuth("", username, password, host)
	}
	return n
}

func (n *SMTPNotifier) SendToken(ctx context.Context, contact, token string, expiresAt time.Time) error {
	if err := n.Send(ctx, TokenMessage(contact, token, expiresAt)); err != nil {
		return fmt.Errorf("send verification mail: %w", err)
	}
	return nil
}

// Send delivers a plain-text message through the relay.
func (n *SMTPNotifier) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		n.from, m.To, m.Subject, m.Body)
	return smtp.SendMail(n.addr, n.auth, n.from, []string{m.To}, []byte(raw))
}

// Outbox keeps the last message per contact in memory instead of sending it.
type Outbox struct {
	mu       sync.Mutex
	messages map[string]Message
}

func NewOutbox() *Outbox {
	return &Outbox{messages: make(map[string]Message)}
}

func (o *Outbox) SendToken(ctx context.Context, contact, token string, expiresAt time.Time) error {
	return o.Send(ctx, TokenMessage(contact, token, expiresAt))
}

func (o *Outbox) Send(_ context.Context, m Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages[m.To] = m
	return nil
}

// Last returns the most recent message for contact.
func (o *Outbox) Last(contact string) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.messages[contact]
	return m, ok
}
