package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SentAtHeader carries the driver's own send time so it can be compared with
// the timestamp SES reports.
const SentAtHeader = "X-Mailbench-Sent-At"

// SendFunc delivers one message; smtp.SendMail satisfies it.
type SendFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// Config describes a load run
type Config struct {
	Addr     string
	Username string
	Password string
	From     string
	To       []string
	Count    int
	Interval time.Duration
	Domain   string
	// Insecure skips STARTTLS, for local relays
	Insecure bool
}

// Validate checks that a run can be started
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("smtp address is required")
	}
	if c.From == "" {
		return errors.New("sender address is required")
	}
	if len(c.To) == 0 {
		return errors.New("at least one recipient is required")
	}
	if c.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", c.Count)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must not be negative, got %s", c.Interval)
	}
	return nil
}

// Summary reports the outcome of a load run
type Summary struct {
	Sent       int
	Failed     int
	MessageIDs []string
}

// Sender pushes numbered test emails through an SMTP relay so that both
// ingestion pipelines receive traffic.
type Sender struct {
	cfg  Config
	send SendFunc
	now  func() time.Time
}

// NewSender creates a sender that delivers with smtp.SendMail, which
// requires STARTTLS, or in plain text when cfg.Insecure is set.
func NewSender(cfg Config) *Sender {
	send := SendFunc(smtp.SendMail)
	if cfg.Insecure {
		send = sendPlain
	}
	return &Sender{cfg: cfg, send: send, now: time.Now}
}

// NewSenderWithFunc creates a sender with a custom delivery function
func NewSenderWithFunc(cfg Config, send SendFunc) *Sender {
	return &Sender{cfg: cfg, send: send, now: time.Now}
}

// Run sends Count messages, waiting Interval between them. A failed message
// is logged and counted; Run returns an error if any message failed or ctx
// was cancelled before the run finished.
func (s *Sender) Run(ctx context.Context) (Summary, error) {
	if err := s.cfg.Validate(); err != nil {
		return Summary{}, err
	}

	var auth sasl.Client
	if s.cfg.Username != "" {
		auth = sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
	}

	summary := Summary{MessageIDs: make([]string, 0, s.cfg.Count)}

	for i := 1; i <= s.cfg.Count; i++ {
		if i > 1 && s.cfg.Interval > 0 {
			select {
			case <-time.After(s.cfg.Interval):
			case <-ctx.Done():
				return summary, ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		id := fmt.Sprintf("<%s@%s>", uuid.New().String(), s.domain())
		msg := BuildMessage(s.cfg.From, s.cfg.To, id, i, s.cfg.Count, s.now())

		if err := s.send(s.cfg.Addr, auth, s.cfg.From, s.cfg.To, bytes.NewReader(msg)); err != nil {
			summary.Failed++
			log.Error().Err(err).Int("seq", i).Str("message_id", id).Msg("Failed to send email")
			continue
		}

		summary.Sent++
		summary.MessageIDs = append(summary.MessageIDs, id)
		log.Info().Int("seq", i).Int("count", s.cfg.Count).Str("message_id", id).Msg("Email sent")
	}

	if summary.Failed > 0 {
		return summary, fmt.Errorf("%d of %d emails failed", summary.Failed, s.cfg.Count)
	}
	return summary, nil
}

func (s *Sender) domain() string {
	if s.cfg.Domain != "" {
		return s.cfg.Domain
	}
	if _, domain, ok := strings.Cut(s.cfg.From, "@"); ok && domain != "" {
		return domain
	}
	return "localhost"
}

// sendPlain delivers one message without upgrading the connection to TLS
func sendPlain(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
	c, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	if a != nil {
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.SendMail(from, to, r); err != nil {
		return err
	}
	return c.Quit()
}

// BuildMessage formats one test email
func BuildMessage(from string, to []string, messageID string, seq, count int, sentAt time.Time) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: mailbench %d/%d\r\n", seq, count)
	fmt.Fprintf(&buf, "Date: %s\r\n", sentAt.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&buf, "%s: %s\r\n", SentAtHeader, sentAt.UTC().Format(time.RFC3339Nano))
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	fmt.Fprintf(&buf, "Benchmark message %d of %d.\r\n", seq, count)

	return buf.Bytes()
}
