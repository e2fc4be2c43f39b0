package notify

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/cart_recovery/pkg/mykafka"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/offer"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/testutil"
)

func sampleMessage() Message {
	return Message{
		AttemptID: 7,
		CartID:    3,
		SessionID: "sess-1",
		Recipient: "alice@example.com",
		Subject:   "Complete your purchase, Alice!",
		Body:      "Hi Alice,\n\nYour laptop is waiting.",
		Offer:     offer.Offer{Type: offer.TypePercentage, Value: decimal.NewFromInt(15), Description: "15% off your order"},
		ClickURL:  "https://shop.example/r/c/tok",
		PixelURL:  "https://shop.example/r/o/tok",
	}
}

func TestDispatcher_RetriesTransient(t *testing.T) {
	calls := 0
	d := NewDispatcher(3, time.Millisecond).Register(models.ChannelEmail, SenderFunc(func(context.Context, Message) error {
		calls++
		if calls < 3 {
			return ErrTransient
		}
		return nil
	}))

	require.NoError(t, d.Send(context.Background(), models.ChannelEmail, sampleMessage()))
	assert.Equal(t, 3, calls)
}

func TestDispatcher_GivesUp(t *testing.T) {
	calls := 0
	d := NewDispatcher(2, time.Millisecond).Register(models.ChannelChat, SenderFunc(func(context.Context, Message) error {
		calls++
		return ErrTransient
	}))

	err := d.Send(context.Background(), models.ChannelChat, sampleMessage())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.Equal(t, 2, calls)
}

func TestDispatcher_PermanentStopsAtOnce(t *testing.T) {
	calls := 0
	perm := errors.New("mailbox does not exist")
	d := NewDispatcher(5, time.Millisecond).Register(models.ChannelEmail, SenderFunc(func(context.Context, Message) error {
		calls++
		return perm
	}))

	err := d.Send(context.Background(), models.ChannelEmail, sampleMessage())
	assert.ErrorIs(t, err, perm)
	assert.Equal(t, 1, calls)
}

func TestDispatcher_UnknownChannel(t *testing.T) {
	d := NewDispatcher(1, 0)
	assert.False(t, d.Available(models.ChannelPopup))
	assert.ErrorIs(t, d.Send(context.Background(), models.ChannelPopup, sampleMessage()), ErrChannelUnavailable)
}

func TestBuildMessage(t *testing.T) {
	raw, err := buildMessage("Shop <shop@example.com>", sampleMessage(), testutil.Epoch)
	require.NoError(t, err)

	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", msg.Header.Get("To"))
	assert.Equal(t, "Complete your purchase, Alice!", msg.Header.Get("Subject"))

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	parts := map[string]string{}
	mr := multipart.NewReader(msg.Body, params["boundary"])
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(p)
		require.NoError(t, err)
		parts[strings.Split(p.Header.Get("Content-Type"), ";")[0]] = string(body)
	}
	assert.Contains(t, parts["text/plain"], "Your laptop is waiting.")
	assert.Contains(t, parts["text/html"], `<a href="https://shop.example/r/c/tok">`)
	assert.Contains(t, parts["text/html"], `<img src="https://shop.example/r/o/tok"`)
	assert.Contains(t, parts["text/html"], "<p>Hi Alice,</p>")
}

type fakeSMTP struct {
	ln     net.Listener
	reject bool

	mu   sync.Mutex
	rcpt string
	data string
}

func startSMTP(t *testing.T, reject bool) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSMTP{ln: ln, reject: reject}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *fakeSMTP) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 localhost ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			_ = tp.PrintfLine("250-localhost")
			_ = tp.PrintfLine("250 8BITMIME")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			_ = tp.PrintfLine("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO"):
			if s.reject {
				_ = tp.PrintfLine("550 no such user")
				continue
			}
			s.mu.Lock()
			s.rcpt = line
			s.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case cmd == "DATA":
			_ = tp.PrintfLine("354 go ahead")
			data, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.data = string(data)
			s.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case cmd == "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 not implemented")
		}
	}
}

func (s *fakeSMTP) port(t *testing.T) int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func TestEmail_Send(t *testing.T) {
	srv := startSMTP(t, false)
	e := NewEmail(SMTPConfig{Host: "127.0.0.1", Port: srv.port(t), From: "shop@example.com"})

	require.NoError(t, e.Send(context.Background(), sampleMessage()))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Contains(t, srv.rcpt, "alice@example.com")
	assert.Contains(t, srv.data, "Subject: Complete your purchase, Alice!")
	assert.Contains(t, srv.data, "https://shop.example/r/o/tok")
}

func TestEmail_RejectedRecipientIsPermanent(t *testing.T) {
	srv := startSMTP(t, true)
	e := NewEmail(SMTPConfig{Host: "127.0.0.1", Port: srv.port(t), From: "shop@example.com"})

	err := e.Send(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTransient))
}

func TestEmail_UnreachableIsTransient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	e := NewEmail(SMTPConfig{Host: "127.0.0.1", Port: port, From: "shop@example.com"})
	assert.ErrorIs(t, e.Send(context.Background(), sampleMessage()), ErrTransient)
}

func TestEmail_NoRecipient(t *testing.T) {
	m := sampleMessage()
	m.Recipient = ""
	assert.ErrorIs(t, NewEmail(SMTPConfig{}).Send(context.Background(), m), ErrNoRecipient)
}

func TestPopup_SendAndTake(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	p := NewPopup(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, p.Send(ctx, sampleMessage()))
	assert.Equal(t, time.Hour, mr.TTL("popup:sess-1"))

	got, err := p.Take(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint(7), got.AttemptID)
	assert.True(t, got.Offer.Value.Equal(decimal.NewFromInt(15)))

	again, err := p.Take(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestPopup_RedisDownIsTransient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	assert.ErrorIs(t, NewPopup(client, time.Hour).Send(context.Background(), sampleMessage()), ErrTransient)
}

type failingPublisher struct{}

func (failingPublisher) PublishEvent(context.Context, string, string, any) error {
	return errors.New("broker down")
}

func TestChat_Send(t *testing.T) {
	rec := &testutil.Recorder{}
	c := NewChat(rec)

	require.NoError(t, c.Send(context.Background(), sampleMessage()))
	got := rec.Topic(mykafka.TopicChatOutbound)
	require.Len(t, got, 1)
	assert.Equal(t, "sess-1", got[0].Key)
	assert.Equal(t, "Hi Alice,\n\nYour laptop is waiting.", got[0].Event.(ChatMessage).Text)

	assert.ErrorIs(t, NewChat(failingPublisher{}).Send(context.Background(), sampleMessage()), ErrTransient)
}
