package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"net/mail"
	texttemplate "text/template"

	"go.uber.org/zap"
)

// Template identifies the message layout sent to a participant.
type Template string

const (
	TemplateCertificateIssued Template = "certificate_issued"
	TemplatePaymentVerified   Template = "payment_verified"
	TemplatePaymentRejected   Template = "payment_rejected"
)

// Notification is a single message for one recipient.
type Notification struct {
	Recipient mail.Address
	Template  Template
	Payload   map[string]string
}

// Sender delivers notifications. Callers treat delivery as fire-and-forget.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Message is a rendered notification.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

type layout struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

var layouts = map[Template]layout{
	TemplateCertificateIssued: {
		subject: "Your certificate {{.certificate_number}} is ready",
		text:    texttemplate.Must(texttemplate.New("cert_text").Parse("Hello {{.participant_name}},\n\nYour certificate {{.certificate_number}} for {{.session_title}} was issued on {{.issue_date}}.\n")),
		html:    htmltemplate.Must(htmltemplate.New("cert_html").Parse("<p>Hello {{.participant_name}},</p><p>Your certificate <strong>{{.certificate_number}}</strong> for {{.session_title}} was issued on {{.issue_date}}.</p>")),
	},
	TemplatePaymentVerified: {
		subject: "Payment confirmed for {{.session_title}}",
		text:    texttemplate.Must(texttemplate.New("paid_text").Parse("Hello {{.participant_name}},\n\nYour payment for {{.session_title}} has been verified. Your registration is confirmed.\n")),
		html:    htmltemplate.Must(htmltemplate.New("paid_html").Parse("<p>Hello {{.participant_name}},</p><p>Your payment for {{.session_title}} has been verified. Your registration is confirmed.</p>")),
	},
	TemplatePaymentRejected: {
		subject: "Payment could not be verified for {{.session_title}}",
		text:    texttemplate.Must(texttemplate.New("rejected_text").Parse("Hello {{.participant_name}},\n\nWe could not verify your payment for {{.session_title}}. Please contact the training administrator.\n")),
		html:    htmltemplate.Must(htmltemplate.New("rejected_html").Parse("<p>Hello {{.participant_name}},</p><p>We could not verify your payment for {{.session_title}}. Please contact the training administrator.</p>")),
	},
}

// Render expands the notification's template with its payload.
func Render(n Notification) (*Message, error) {
	l, ok := layouts[n.Template]
	if !ok {
		return nil, fmt.Errorf("unknown notification template %q", n.Template)
	}
	subject, err := texttemplate.New("subject").Parse(l.subject)
	if err != nil {
		return nil, fmt.Errorf("parse subject: %w", err)
	}
	var subj, text, html bytes.Buffer
	if err := subject.Execute(&subj, n.Payload); err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	if err := l.text.Execute(&text, n.Payload); err != nil {
		return nil, fmt.Errorf("render text: %w", err)
	}
	if err := l.html.Execute(&html, n.Payload); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return &Message{Subject: subj.String(), Text: text.String(), HTML: html.String()}, nil
}

// LogSender writes notifications to the logger instead of delivering them.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send renders and logs n.
func (s *LogSender) Send(ctx context.Context, n Notification) error {
	msg, err := Render(n)
	if err != nil {
		return err
	}
	s.logger.Info("notification",
		zap.String("to", n.Recipient.String()),
		zap.String("template", string(n.Template)),
		zap.String("subject", msg.Subject),
	)
	return nil
}
