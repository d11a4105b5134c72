package driver

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-center/internal/domain"
)

const (
	mailRetryDelay      = time.Second
	defaultSMTPPort     = 587
	defaultMailSubject  = "Notification"
	defaultFromEmail    = "noreply@example.com"
	defaultFromName     = "Notification Center"
	defaultSendmailPath = "/usr/sbin/sendmail"
	smtpSessionTimeout  = 30 * time.Second
)

type MailConfig struct {
	Host         string
	Port         int
	User         string
	Pass         string
	FromEmail    string
	FromName     string
	SendmailPath string
	// StartTLS forces STARTTLS; port 587 always upgrades.
	StartTLS bool
}

// MailTransport submits one fully built message.
type MailTransport interface {
	Name() string
	Deliver(ctx context.Context, from string, to []string, msg []byte) error
}

// MailDriver sends mail through an SMTP relay, or through the local
// sendmail binary when no relay is configured.
type MailDriver struct {
	cfg       MailConfig
	transport MailTransport
	retrier   retrier
	now       func() time.Time
}

func NewMailDriver(cfg MailConfig, opts ...Option) *MailDriver {
	o := buildOptions(opts)
	if cfg.Port == 0 {
		cfg.Port = defaultSMTPPort
	}
	if cfg.FromEmail == "" {
		cfg.FromEmail = defaultFromEmail
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	if cfg.SendmailPath == "" {
		cfg.SendmailPath = defaultSendmailPath
	}

	transport := o.mailTransport
	if transport == nil {
		if cfg.Host != "" {
			transport = &SMTPTransport{cfg: cfg}
		} else {
			transport = &SendmailTransport{Path: cfg.SendmailPath}
		}
	}

	return &MailDriver{
		cfg:       cfg,
		transport: transport,
		retrier: retrier{
			kind:        KindMail,
			maxAttempts: defaultMaxAttempts,
			baseDelay:   o.delay(mailRetryDelay),
			sleep:       o.sleep,
			logger:      o.logger,
		},
		now: time.Now,
	}
}

func newMailFromSettings(s settings, opts ...Option) (Driver, error) {
	return NewMailDriver(MailConfig{
		Host:         s.str("host", ""),
		Port:         s.int("port", defaultSMTPPort),
		User:         s.str("user", ""),
		Pass:         s.str("pass", ""),
		FromEmail:    s.str("from_email", defaultFromEmail),
		FromName:     s.str("from_name", defaultFromName),
		SendmailPath: s.str("sendmail_path", defaultSendmailPath),
		StartTLS:     s.bool("starttls", false),
	}, opts...), nil
}

func (d *MailDriver) Kind() Kind { return KindMail }

func (d *MailDriver) Send(ctx context.Context, payload domain.Payload) Result {
	to := payload.Recipient()
	if to == "" {
		return failure("mail recipient is required")
	}
	recipient, err := mail.ParseAddress(to)
	if err != nil {
		return failure(fmt.Sprintf("invalid mail recipient: %v", err))
	}

	body := payload.Message()
	contentType := "text/plain; charset=UTF-8"
	if html := payload.String("html"); html != "" {
		body = html
		contentType = "text/html; charset=UTF-8"
	}
	if body == "" {
		return failure("mail message is required")
	}

	subject := payload.Subject()
	if subject == "" {
		subject = defaultMailSubject
	}

	msg := d.buildMessage(recipient, subject, contentType, body)

	return d.retrier.run(ctx, "mail sent successfully", func(ctx context.Context) attemptOutcome {
		if err := d.transport.Deliver(ctx, d.cfg.FromEmail, []string{recipient.Address}, msg); err != nil {
			return attemptOutcome{Err: err}
		}
		return attemptOutcome{Response: "sent via " + d.transport.Name()}
	})
}

func (d *MailDriver) buildMessage(to *mail.Address, subject, contentType, body string) []byte {
	from := mail.Address{Name: d.cfg.FromName, Address: d.cfg.FromEmail}
	domainPart := d.cfg.FromEmail
	if at := strings.LastIndex(domainPart, "@"); at >= 0 {
		domainPart = domainPart[at+1:]
	}

	var buf bytes.Buffer
	headers := [][2]string{
		{"From", from.String()},
		{"To", to.String()},
		{"Reply-To", d.cfg.FromEmail},
		{"Subject", mime.QEncoding.Encode("utf-8", subject)},
		{"Date", d.now().UTC().Format(time.RFC1123Z)},
		{"Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domainPart)},
		{"MIME-Version", "1.0"},
		{"Content-Type", contentType},
		{"Content-Transfer-Encoding", "8bit"},
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
	}
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	buf.WriteString("\r\n")

	return buf.Bytes()
}

// SMTPTransport talks to a relay, upgrading with STARTTLS and
// authenticating when credentials are configured.
type SMTPTransport struct {
	cfg MailConfig
}

func (t *SMTPTransport) Name() string { return "smtp" }

func (t *SMTPTransport) Deliver(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	dialer := &net.Dialer{Timeout: defaultConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &TransportError{Message: "failed to connect to smtp server", Cause: err}
	}

	deadline := time.Now().Add(smtpSessionTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return &TransportError{Message: "smtp handshake failed", Cause: err}
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return &TransportError{Message: "smtp hello failed", Cause: err}
	}

	if t.cfg.StartTLS || t.cfg.Port == defaultSMTPPort {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: t.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
				return &TransportError{Message: "smtp starttls failed", Cause: err}
			}
		} else if t.cfg.StartTLS {
			return &TransportError{Message: "smtp server does not support starttls"}
		}
	}

	if t.cfg.User != "" {
		if err := client.Auth(smtp.PlainAuth("", t.cfg.User, t.cfg.Pass, t.cfg.Host)); err != nil {
			return &TransportError{Message: "smtp authentication failed", Cause: err}
		}
	}

	if err := client.Mail(from); err != nil {
		return &TransportError{Message: "smtp MAIL FROM rejected", Cause: err}
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return &TransportError{Message: "smtp RCPT TO rejected", Cause: err}
		}
	}

	w, err := client.Data()
	if err != nil {
		return &TransportError{Message: "smtp DATA rejected", Cause: err}
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return &TransportError{Message: "smtp write failed", Cause: err}
	}
	if err := w.Close(); err != nil {
		return &TransportError{Message: "smtp message rejected", Cause: err}
	}

	return client.Quit()
}

// SendmailTransport pipes the message into a local sendmail compatible binary.
type SendmailTransport struct {
	Path string
}

func (t *SendmailTransport) Name() string { return "sendmail" }

func (t *SendmailTransport) Deliver(ctx context.Context, from string, _ []string, msg []byte) error {
	cmd := exec.CommandContext(ctx, t.Path, "-t", "-i", "-f", from)
	cmd.Stdin = bytes.NewReader(msg)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &TransportError{
			Message: strings.TrimSpace(fmt.Sprintf("sendmail failed %s", bytes.TrimSpace(output))),
			Cause:   err,
		}
	}
	return nil
}
