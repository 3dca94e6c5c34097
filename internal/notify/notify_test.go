package notify

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drewfead/showtime-watcher/internal"
	"github.com/drewfead/showtime-watcher/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func thalaivanAlert() internal.Alert {
	return internal.Alert{
		Result: internal.NewCheckResult(
			"20250801",
			"Thalaivan Thalaivii",
			[]string{"10:30 AM", "6:45 PM"},
			"https://lk.bookmyshow.com/sri-lanka/cinemas/regal-cinema-jaffna/MCJA/20250801",
		),
	}
}

func TestUnit_Message(t *testing.T) {
	alert := thalaivanAlert()
	assert.Equal(t, "Booking Alert: Thalaivan Thalaivii on 20250801", Subject(alert))
	assert.Equal(t, "Movie: Thalaivan Thalaivii\n"+
		"Date: 20250801\n"+
		"Showtimes: 10:30 AM, 6:45 PM\n"+
		"\n"+
		"Open the page: https://lk.bookmyshow.com/sri-lanka/cinemas/regal-cinema-jaffna/MCJA/20250801\n",
		Body(alert))

	alert.Movie = internal.MovieInfo{
		Title:    "Thalaivan Thalaivii",
		Overview: "A couple's marriage is tested.",
		Links:    []internal.Link{{Href: "https://www.themoviedb.org/movie/1", Display: "TMDB"}},
	}
	body := Body(alert)
	assert.Contains(t, body, "About Thalaivan Thalaivii\nA couple's marriage is tested.\n")
	assert.True(t, strings.HasSuffix(body, "TMDB: https://www.themoviedb.org/movie/1\n"))

	raw, err := Message("me@example.com", "you@example.com", thalaivanAlert()).Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Subject: Booking Alert: Thalaivan Thalaivii on 20250801")
	assert.Contains(t, string(raw), "To: <you@example.com>")
}

func TestUnit_Log(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Log(&buf).Notify(t.Context(), thalaivanAlert()))
	assert.True(t, strings.HasPrefix(buf.String(), "Subject: Booking Alert: Thalaivan Thalaivii on 20250801\n\nMovie:"))

	require.NoError(t, Log(nil).Notify(t.Context(), thalaivanAlert()))
}

type recordingNotifier struct {
	alerts []internal.Alert
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, alert internal.Alert) error {
	r.alerts = append(r.alerts, alert)
	return r.err
}

func TestUnit_AlertKey(t *testing.T) {
	a := thalaivanAlert()
	b := thalaivanAlert()
	b.Result.MovieName = "  thalaivan thalaivii "
	assert.Equal(t, AlertKey(a), AlertKey(b), "movie name is case folded")

	c := thalaivanAlert()
	c.Result = internal.NewCheckResult("20250801", "Thalaivan Thalaivii", []string{"10:30 AM"}, c.Result.PageURL)
	assert.NotEqual(t, AlertKey(a), AlertKey(c), "different showtimes")

	d := thalaivanAlert()
	d.Result.Date = "20250802"
	assert.NotEqual(t, AlertKey(a), AlertKey(d), "different date")
}

func TestUnit_Dedupe(t *testing.T) {
	rec := &recordingNotifier{}
	n := Dedupe(rec)

	require.NoError(t, n.Notify(t.Context(), thalaivanAlert()))
	require.NoError(t, n.Notify(t.Context(), thalaivanAlert()))
	assert.Len(t, rec.alerts, 1)

	other := thalaivanAlert()
	other.Result.Date = "20250802"
	require.NoError(t, n.Notify(t.Context(), other))
	assert.Len(t, rec.alerts, 2)
}

func TestUnit_Dedupe_FailedDeliveryIsRetried(t *testing.T) {
	rec := &recordingNotifier{err: &internal.DeliveryError{Notifier: "test", Err: errors.New("smtp down")}}
	n := Dedupe(rec)

	err := n.Notify(t.Context(), thalaivanAlert())
	var de *internal.DeliveryError
	require.ErrorAs(t, err, &de)

	rec.err = nil
	require.NoError(t, n.Notify(t.Context(), thalaivanAlert()))
	require.NoError(t, n.Notify(t.Context(), thalaivanAlert()))
	assert.Len(t, rec.alerts, 2, "first failed, second delivered, third suppressed")
}

func TestUnit_Dedupe_Expires(t *testing.T) {
	rec := &recordingNotifier{}
	n := Dedupe(rec, WithDedupeWindow(4, 20*time.Millisecond))

	require.NoError(t, n.Notify(t.Context(), thalaivanAlert()))
	assert.Eventually(t, func() bool {
		_ = n.Notify(t.Context(), thalaivanAlert())
		return len(rec.alerts) == 2
	}, time.Second, 10*time.Millisecond)
}

// fakeSMTP is a minimal plaintext SMTP server that accepts one message per connection.
type fakeSMTP struct {
	ln       net.Listener
	authCode string
	silent   bool

	mu       sync.Mutex
	auth     []string
	from     []string
	rcpt     []string
	messages []string
}

type fakeSMTPOption func(*fakeSMTP)

// withAuthReply sets the reply to AUTH.
func withAuthReply(code string) fakeSMTPOption {
	return func(s *fakeSMTP) { s.authCode = code }
}

// withSilence makes the server accept connections and never greet.
func withSilence() fakeSMTPOption {
	return func(s *fakeSMTP) { s.silent = true }
}

// startFakeSMTP applies opts before the accept loop starts; the behavior fields are read-only after that.
func startFakeSMTP(t *testing.T, opts ...fakeSMTPOption) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSMTP{ln: ln, authCode: "235 2.7.0 accepted"}
	for _, opt := range opts {
		opt(s)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *fakeSMTP) config() config.Email {
	_, port, _ := net.SplitHostPort(s.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return config.Email{
		From:     "watcher@example.com",
		To:       "me@example.com",
		Password: "app-password",
		SMTPHost: "127.0.0.1",
		SMTPPort: p,
		Timeout:  2 * time.Second,
	}
}

func (s *fakeSMTP) serve(conn net.Conn) {
	defer conn.Close()
	if s.silent {
		_, _ = conn.Read(make([]byte, 1))
		return
	}
	tp := textproto.NewConn(conn)
	reply := func(line string) { _ = tp.PrintfLine("%s", line) }
	reply("220 fake ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch verb {
		case "EHLO", "HELO":
			reply("250-fake")
			reply("250 AUTH PLAIN")
		case "AUTH":
			s.record(&s.auth, line)
			reply(s.authCode)
		case "MAIL":
			s.record(&s.from, line)
			reply("250 ok")
		case "RCPT":
			s.record(&s.rcpt, line)
			reply("250 ok")
		case "DATA":
			reply("354 go ahead")
			body, err := tp.ReadDotLines()
			if err != nil {
				return
			}
			s.record(&s.messages, strings.Join(body, "\n"))
			reply("250 queued")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func (s *fakeSMTP) record(dst *[]string, v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*dst = append(*dst, v)
}

func (s *fakeSMTP) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func TestUnit_Email_Delivers(t *testing.T) {
	server := startFakeSMTP(t)
	n := Email(server.config())

	require.NoError(t, n.Notify(t.Context(), thalaivanAlert()))

	server.mu.Lock()
	defer server.mu.Unlock()
	require.Len(t, server.messages, 1)
	assert.Len(t, server.auth, 1)
	assert.Equal(t, []string{"MAIL FROM:<watcher@example.com>"}, server.from)
	assert.Equal(t, []string{"RCPT TO:<me@example.com>"}, server.rcpt)
	assert.Contains(t, server.messages[0], "Subject: Booking Alert: Thalaivan Thalaivii on 20250801")
	assert.Contains(t, server.messages[0], "Showtimes: 10:30 AM, 6:45 PM")
}

func TestUnit_Email_AuthRejected(t *testing.T) {
	server := startFakeSMTP(t, withAuthReply("535 5.7.8 bad credentials"))

	err := Email(server.config()).Notify(t.Context(), thalaivanAlert())
	var de *internal.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "email", de.Notifier)
	assert.Contains(t, err.Error(), "auth")
	assert.Zero(t, server.messageCount())
}

func TestUnit_Email_Timeout(t *testing.T) {
	server := startFakeSMTP(t, withSilence())
	cfg := server.config()
	cfg.Timeout = 100 * time.Millisecond

	start := time.Now()
	err := Email(cfg).Notify(t.Context(), thalaivanAlert())
	var de *internal.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestUnit_Email_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg := (&fakeSMTP{ln: ln}).config()
	require.NoError(t, ln.Close())

	err = Email(cfg).Notify(t.Context(), thalaivanAlert())
	var de *internal.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, err.Error(), "dial")
}
