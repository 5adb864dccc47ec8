package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"sentinel/internal/domain"
	"sentinel/internal/render"
)

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends a multipart text/HTML message over SMTP.
type Email struct {
	cfg  EmailConfig
	send sendMailFunc
	now  func() time.Time
}

func NewEmail(cfg EmailConfig) *Email {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	e := &Email{cfg: cfg, now: time.Now}
	e.send = e.sendMail
	return e
}

func (e *Email) Kind() domain.ChannelKind { return domain.ChannelEmail }

func (e *Email) Send(ctx context.Context, r *domain.Report, target string) error {
	if strings.TrimSpace(e.cfg.Host) == "" {
		return Permanent(fmt.Errorf("email: %w", ErrUnconfigured))
	}
	to, err := mail.ParseAddress(strings.TrimSpace(target))
	if err != nil {
		return Permanent(fmt.Errorf("email: bad recipient %q: %w", target, err))
	}
	from, err := mail.ParseAddress(e.cfg.From)
	if err != nil {
		return Permanent(fmt.Errorf("email: bad sender %q: %w", e.cfg.From, err))
	}
	msg, err := e.compose(r, from, to)
	if err != nil {
		return Permanent(fmt.Errorf("email: compose: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	if err := e.send(ctx, addr, auth, from.Address, []string{to.Address}, msg); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("email: %w: %v", ctx.Err(), err)
		}
		var tpe *textproto.Error
		if errors.As(err, &tpe) && tpe.Code >= 500 {
			return Permanent(fmt.Errorf("email: %w", err))
		}
		return fmt.Errorf("email: %w", err)
	}
	return nil
}

// sendMail runs one SMTP session bounded by ctx: when ctx ends the
// connection is closed, which fails whatever step is blocked.
func (e *Email) sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.cfg.Host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server does not support AUTH")
		}
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (e *Email) compose(r *domain.Report, from, to *mail.Address) ([]byte, error) {
	htmlBody, err := render.HTML(r)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	var hdr bytes.Buffer
	fmt.Fprintf(&hdr, "From: %s\r\n", from.String())
	fmt.Fprintf(&hdr, "To: %s\r\n", to.String())
	fmt.Fprintf(&hdr, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", r.Title()))
	fmt.Fprintf(&hdr, "Date: %s\r\n", e.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&hdr, "X-Sentinel-Report-Key: %s\r\n", r.Key.String())
	hdr.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&hdr, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())

	for _, part := range []struct{ ctype, body string }{
		{"text/plain; charset=utf-8", render.Markdown(r)},
		{"text/html; charset=utf-8", htmlBody},
	} {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.ctype},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return append(hdr.Bytes(), buf.Bytes()...), nil
}
