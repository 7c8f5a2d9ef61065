package smtp

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mailbench/email"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// captured is one message accepted by the test relay
type captured struct {
	from string
	to   []string
	data string
}

// relayBackend implements an in-memory SMTP relay
type relayBackend struct {
	mu       sync.Mutex
	messages []captured
}

func (b *relayBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &relaySession{backend: b}, nil
}

func (b *relayBackend) received() []captured {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]captured(nil), b.messages...)
}

type relaySession struct {
	backend *relayBackend
	from    string
	to      []string
}

func (s *relaySession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *relaySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, captured{from: s.from, to: s.to, data: string(data)})
	s.backend.mu.Unlock()
	return nil
}

func (s *relaySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *relaySession) Logout() error {
	return nil
}

func startRelay(t *testing.T) (*relayBackend, string) {
	t.Helper()

	be := &relayBackend{}
	s := smtp.NewServer(be)
	s.Domain = "localhost"
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second
	s.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	return be, l.Addr().String()
}

func TestSenderDeliversThroughRelay(t *testing.T) {
	relay, addr := startRelay(t)

	sender := NewSender(Config{
		Addr:     addr,
		From:     "bench@example.com",
		To:       []string{"inbox@example.com"},
		Count:    3,
		Insecure: true,
	})
	summary, err := sender.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Sent)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.MessageIDs, 3)

	messages := relay.received()
	require.Len(t, messages, 3)
	assert.Equal(t, "bench@example.com", messages[0].from)
	assert.Equal(t, []string{"inbox@example.com"}, messages[0].to)

	parsed := email.Decode(messages[2].data)
	assert.Equal(t, "mailbench 3/3", parsed.Subject())
	assert.Equal(t, summary.MessageIDs[2], parsed.Header("message-id"))
	assert.NotEmpty(t, parsed.Header(SentAtHeader))
}

func TestSenderCountsFailures(t *testing.T) {
	calls := 0
	send := func(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
		calls++
		if calls == 2 {
			return errors.New("454 throttled")
		}
		return nil
	}

	sender := NewSenderWithFunc(Config{
		Addr:     "relay:587",
		Username: "user",
		Password: "pass",
		From:     "bench@example.com",
		To:       []string{"inbox@example.com"},
		Count:    3,
	}, send)
	summary, err := sender.Run(context.Background())

	assert.ErrorContains(t, err, "1 of 3 emails failed")
	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, calls)
}

func TestSenderPassesPlainAuth(t *testing.T) {
	var got sasl.Client
	send := func(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
		got = a
		return nil
	}

	_, err := NewSenderWithFunc(Config{
		Addr: "relay:587", Username: "user", Password: "pass",
		From: "bench@example.com", To: []string{"inbox@example.com"}, Count: 1,
	}, send).Run(context.Background())

	require.NoError(t, err)
	require.NotNil(t, got)
	mech, ir, err := got.Start()
	require.NoError(t, err)
	assert.Equal(t, sasl.Plain, mech)
	assert.Equal(t, "\x00user\x00pass", string(ir))
}

func TestSenderStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	send := func(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
		cancel()
		return nil
	}

	summary, err := NewSenderWithFunc(Config{
		Addr: "relay:587", From: "bench@example.com", To: []string{"inbox@example.com"},
		Count: 5, Interval: time.Hour,
	}, send).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Sent)
}

func TestConfigValidate(t *testing.T) {
	base := Config{Addr: "relay:587", From: "a@x", To: []string{"b@y"}, Count: 1}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no addr", mutate: func(c *Config) { c.Addr = "" }, wantErr: true},
		{name: "no from", mutate: func(c *Config) { c.From = "" }, wantErr: true},
		{name: "no recipients", mutate: func(c *Config) { c.To = nil }, wantErr: true},
		{name: "zero count", mutate: func(c *Config) { c.Count = 0 }, wantErr: true},
		{name: "negative interval", mutate: func(c *Config) { c.Interval = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			if tt.wantErr {
				assert.Error(t, c.Validate())
			} else {
				assert.NoError(t, c.Validate())
			}
		})
	}
}

func TestBuildMessage(t *testing.T) {
	sentAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := string(BuildMessage("a@x", []string{"b@y", "c@z"}, "<id@x>", 2, 5, sentAt))

	parsed := email.Decode(msg)
	assert.Equal(t, "a@x", parsed.From())
	assert.Equal(t, "b@y, c@z", parsed.To())
	assert.Equal(t, "mailbench 2/5", parsed.Subject())
	assert.Equal(t, "<id@x>", parsed.Header("Message-ID"))
	assert.Equal(t, "2025-06-01T12:00:00Z", parsed.Header(SentAtHeader))
	assert.Equal(t, "Benchmark message 2 of 5.", parsed.Body)
}
