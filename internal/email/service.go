// Package email delivers notifications over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"

	"agenda/api/internal/notify"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	AppName  string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	if config.AppName == "" {
		config.AppName = "Agenda"
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart email with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	return s.send(s.server, s.auth, s.config.From, to, s.buildMessage(to, subject, textBody, htmlBody))
}

func (s *Service) buildMessage(to []string, subject, textBody, htmlBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	boundary := "boundary-agenda"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

type NotificationData struct {
	AppName       string
	RecipientName string
	Title         string
	Body          string
	Severity      string
	ActionURL     string
}

// SendNotification renders and sends one notification to one recipient.
func (s *Service) SendNotification(to, recipientName string, message notify.Message) error {
	data := NotificationData{
		AppName:       s.config.AppName,
		RecipientName: recipientName,
		Title:         message.Title,
		Body:          message.Body,
		Severity:      message.Severity,
		ActionURL:     message.ActionURL,
	}
	html, err := renderTemplate(notificationEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render notification template: %w", err)
	}
	text := message.Body
	if message.ActionURL != "" {
		text += "\r\n\r\n" + message.ActionURL
	}
	subject := fmt.Sprintf("[%s] %s", s.config.AppName, message.Title)
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Sink pushes a notification to its representative recipient only; the
// notification store keeps the full list.
type Sink struct {
	service *Service
	logger  *slog.Logger
}

func NewSink(service *Service) *Sink {
	return &Sink{service: service, logger: slog.Default().With("component", "email")}
}

func (s *Sink) Name() string { return "email" }

func (s *Sink) Deliver(_ context.Context, n notify.Notification) error {
	if !s.service.IsConfigured() {
		return nil
	}
	rep, ok := n.Representative()
	if !ok {
		return nil
	}
	if rep.Email == "" {
		s.logger.Debug("representative has no email address", "notification_id", n.ID, "user_id", rep.UserID)
		return nil
	}
	if err := s.service.SendNotification(rep.Email, rep.UserName, n.Message); err != nil {
		return fmt.Errorf("email %s to %s: %w", n.ID, rep.UserID, err)
	}
	return nil
}

const notificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .severity-warning, .severity-critical { background: #fff3cd; padding: 12px; border-radius: 4px; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    {{if .RecipientName}}<p>Hi {{.RecipientName}},</p>{{end}}

    <div class="severity-{{.Severity}}">
        <h2>{{.Title}}</h2>
        <p>{{.Body}}</p>
    </div>

    {{if .ActionURL}}<p><a href="{{.ActionURL}}" class="button">Open proposal</a></p>{{end}}

    <div class="footer">
        <p>You receive this message because you are involved in this proposal.</p>
    </div>
</body>
</html>`
