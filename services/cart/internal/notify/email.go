package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type Email struct {
	cfg    SMTPConfig
	dialer net.Dialer
	now    func() time.Time
}

func NewEmail(cfg SMTPConfig) *Email {
	return &Email{cfg: cfg, dialer: net.Dialer{Timeout: 10 * time.Second}, now: time.Now}
}

func (e *Email) Send(ctx context.Context, m Message) error {
	if strings.TrimSpace(m.Recipient) == "" {
		return ErrNoRecipient
	}
	raw, err := buildMessage(e.cfg.From, m, e.now())
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	conn, err := e.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransient, addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: smtp greeting: %v", ErrTransient, err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.cfg.Host}); err != nil {
			return classify("starttls", err)
		}
	}
	if e.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)); err != nil {
				return classify("auth", err)
			}
		}
	}
	if err := c.Mail(envelope(e.cfg.From)); err != nil {
		return classify("mail from", err)
	}
	if err := c.Rcpt(m.Recipient); err != nil {
		return classify("rcpt to", err)
	}
	w, err := c.Data()
	if err != nil {
		return classify("data", err)
	}
	if _, err := w.Write(raw); err != nil {
		return classify("write body", err)
	}
	if err := w.Close(); err != nil {
		return classify("end data", err)
	}
	return c.Quit()
}

// classify treats 5xx replies as permanent and everything else as transient.
func classify(step string, err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return fmt.Errorf("smtp %s: %w", step, err)
	}
	return fmt.Errorf("%w: smtp %s: %v", ErrTransient, step, err)
}

func envelope(from string) string {
	if a, err := mail.ParseAddress(from); err == nil {
		return a.Address
	}
	return from
}

var htmlTmpl = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><body>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}{{if .ClickURL}}<p><a href="{{.ClickURL}}">Complete your purchase</a></p>
{{end}}{{if .PixelURL}}<img src="{{.PixelURL}}" width="1" height="1" alt="">
{{end}}</body></html>
`))

func buildMessage(from string, m Message, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	header := textproto.MIMEHeader{}
	header.Set("From", from)
	header.Set("To", m.Recipient)
	header.Set("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header.Set("Date", now.Format(time.RFC1123Z))
	header.Set("MIME-Version", "1.0")

	mw := multipart.NewWriter(&buf)
	header.Set("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	for _, k := range []string{"From", "To", "Subject", "Date", "MIME-Version", "Content-Type"} {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, header.Get(k))
	}
	buf.WriteString("\r\n")

	text, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := text.Write([]byte(m.Body)); err != nil {
		return nil, err
	}

	html, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	err = htmlTmpl.Execute(html, struct {
		Paragraphs []string
		ClickURL   string
		PixelURL   string
	}{strings.Split(m.Body, "\n\n"), m.ClickURL, m.PixelURL})
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
