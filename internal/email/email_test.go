package email

import (
	"bytes"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shineum/mailcompose/internal/config"
	"github.com/shineum/mailcompose/internal/session"
)

// newTestEmail returns an Email with a sender, one recipient and a host.
func newTestEmail(t *testing.T, opts ...Option) *Email {
	t.Helper()

	e := New(opts...)
	_, err := e.SetFrom("from@example.com")
	require.NoError(t, err)
	_, err = e.AddTo("to@example.com")
	require.NoError(t, err)
	require.NoError(t, e.SetHostName("smtp.example.com"))
	return e
}

func TestBuild_MissingFrom(t *testing.T) {
	t.Parallel()

	e := New()
	_, err := e.AddTo("to@example.com")
	require.NoError(t, err)
	require.NoError(t, e.SetHostName("smtp.example.com"))

	_, err = e.Build()
	require.ErrorIs(t, err, ErrMissingFrom)
}

func TestBuild_MissingRecipient(t *testing.T) {
	t.Parallel()

	e := New()
	_, err := e.SetFrom("from@example.com")
	require.NoError(t, err)
	_, err = e.AddReplyTo("reply@example.com")
	require.NoError(t, err)
	require.NoError(t, e.SetHostName("smtp.example.com"))

	_, err = e.Build()
	require.ErrorIs(t, err, ErrMissingRecipient)
}

func TestBuild_BccOnlyIsEnough(t *testing.T) {
	t.Parallel()

	e := New()
	_, err := e.SetFrom("from@example.com")
	require.NoError(t, err)
	_, err = e.AddBcc("hidden@example.com")
	require.NoError(t, err)
	require.NoError(t, e.SetHostName("smtp.example.com"))

	msg, err := e.Build()
	require.NoError(t, err)
	require.Equal(t, []string{"hidden@example.com"}, msg.Recipients())
}

func TestBuild_MissingHost(t *testing.T) {
	t.Parallel()

	e := New(WithPropertyLookup(config.Map{}))
	_, err := e.SetFrom("from@example.com")
	require.NoError(t, err)
	_, err = e.AddTo("to@example.com")
	require.NoError(t, err)

	_, err = e.Build()
	require.ErrorIs(t, err, ErrMissingHost)

	// A failed build does not consume the builder.
	require.NoError(t, e.SetHostName("smtp.example.com"))
	_, err = e.Build()
	require.NoError(t, err)
}

func TestBuild_AmbientHost(t *testing.T) {
	t.Parallel()

	e := New(WithPropertyLookup(config.Map{session.KeyHost: "ambient.example.com"}))
	_, err := e.SetFrom("from@example.com")
	require.NoError(t, err)
	_, err = e.AddCc("cc@example.com")
	require.NoError(t, err)

	msg, err := e.Build()
	require.NoError(t, err)
	require.Equal(t, "ambient.example.com", msg.Session().Host())
	require.True(t, strings.HasSuffix(msg.MessageID(), "@ambient.example.com>"))
}

func TestBuild_Twice(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	msg, err := e.Build()
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Same(t, msg, e.Message())

	e.SetSubject("changed")
	again, err := e.Build()
	require.ErrorIs(t, err, ErrAlreadyBuilt)
	require.Nil(t, again)
	require.Same(t, msg, e.Message())
}

func TestBuild_TextContentRoundTrip(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	e.SetContent("content", "text/plain")

	msg, err := e.Build()
	require.NoError(t, err)
	require.Equal(t, TextContent{Body: "content"}, msg.Body().Content)
	require.Equal(t, "text/plain", msg.ContentType())
	require.True(t, msg.Body().Explicit)
}

func TestBuild_MultipartKeepsContainerAndType(t *testing.T) {
	t.Parallel()

	container := NewMultipart("alternative")
	container.AddPart("text/plain", []byte("plain"))

	e := newTestEmail(t)
	e.SetMultipart(container)
	e.UpdateContentType("multipart/alternative; boundary=" + container.Boundary())

	msg, err := e.Build()
	require.NoError(t, err)

	mc, ok := msg.Body().Content.(MultipartContent)
	require.True(t, ok)
	require.Same(t, container, mc.Container)
	require.Equal(t, "multipart/alternative; boundary="+container.Boundary(), msg.ContentType())

	// On the wire the transport adds the message charset to the container type.
	raw, err := msg.Bytes()
	require.NoError(t, err)
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/alternative", mediaType)
	require.Equal(t, container.Boundary(), params["boundary"])
	require.Equal(t, "UTF-8", params["charset"])
}

func TestBuild_DefaultTypeUsesCharset(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	require.NoError(t, e.SetCharset("latin1"))
	require.Equal(t, "ISO-8859-1", e.Charset())
	e.SetContent("café", "")

	msg, err := e.Build()
	require.NoError(t, err)
	require.Equal(t, "text/plain; charset=ISO-8859-1", msg.ContentType())
	require.Equal(t, "ISO-8859-1", msg.Charset())
}

func TestBuild_CharsetFromContentType(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	e.SetContent("hello", "text/plain; charset=US-ASCII")

	msg, err := e.Build()
	require.NoError(t, err)
	require.Equal(t, "US-ASCII", msg.Charset())
}

func TestSetCharset_Invalid(t *testing.T) {
	t.Parallel()

	e := New()
	require.NoError(t, e.SetCharset("utf-8"))
	require.Equal(t, "UTF-8", e.Charset())

	require.ErrorIs(t, e.SetCharset("klingon-8"), ErrInvalidCharset)
	require.Equal(t, "UTF-8", e.Charset())

	require.NoError(t, e.SetCharset(""))
	require.Empty(t, e.Charset())
}

func TestSentDate(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	e := New(WithClock(clock))
	require.Equal(t, now, e.SentDate())

	now = now.Add(time.Minute)
	require.Equal(t, now, e.SentDate())

	fixed := time.Date(2001, 9, 9, 1, 46, 40, 0, time.UTC)
	e.SetSentDate(fixed)
	now = now.Add(time.Hour)
	require.Equal(t, fixed, e.SentDate())

	e.SetSentDate(time.Time{})
	require.Equal(t, now, e.SentDate())
}

func TestSentDate_TracksWallClock(t *testing.T) {
	t.Parallel()

	e := New()
	first := e.SentDate()
	require.WithinDuration(t, time.Now(), first, 5*time.Second)

	time.Sleep(2 * time.Millisecond)
	require.True(t, e.SentDate().After(first))
}

func TestBuild_RenderedHeaders(t *testing.T) {
	t.Parallel()

	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	e := newTestEmail(t)
	_, err := e.AddToFormat("Second", "second@example.com")
	require.NoError(t, err)
	_, err = e.AddCc("cc@example.com")
	require.NoError(t, err)
	_, err = e.AddBcc("bcc@example.com")
	require.NoError(t, err)
	_, err = e.AddReplyTo("reply@example.com")
	require.NoError(t, err)
	require.NoError(t, e.AddHeader("X-Campaign", "spring"))
	e.SetSubject("Quarterly report")
	e.SetSentDate(date)
	e.SetContent("see attached", "")

	msg, err := e.Build()
	require.NoError(t, err)

	raw, err := msg.Bytes()
	require.NoError(t, err)
	out := string(raw)

	require.Contains(t, out, "From: <from@example.com>")
	require.Contains(t, out, `To: <to@example.com>, "Second" <second@example.com>`)
	require.Contains(t, out, "Cc: <cc@example.com>")
	require.NotContains(t, out, "bcc@example.com")
	require.Contains(t, out, "Reply-To: <reply@example.com>")
	require.Contains(t, out, "X-Campaign: spring")
	require.Contains(t, out, "Subject: Quarterly report")
	require.Contains(t, out, "Date: Fri, 01 Mar 2024 12:00:00 +0000")
	require.Contains(t, out, "Message-ID: "+msg.MessageID())
	require.Contains(t, out, "see attached")

	require.Equal(t, date, msg.SentDate())
	require.Equal(t, "Quarterly report", msg.Subject())
	require.Equal(t, []string{
		"to@example.com", "second@example.com", "cc@example.com", "bcc@example.com",
	}, msg.Recipients())
}

func TestBuild_CustomDateHeaderWins(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	require.NoError(t, e.AddHeader("Date", "Tue, 02 Jan 2024 10:00:00 +0000"))
	e.SetSentDate(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))

	msg, err := e.Build()
	require.NoError(t, err)

	raw, err := msg.Bytes()
	require.NoError(t, err)
	require.Contains(t, string(raw), "Date: Tue, 02 Jan 2024 10:00:00 +0000")
	require.NotContains(t, string(raw), "01 Jan 2030")
}

func TestBuild_BounceAddress(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	require.ErrorIs(t, e.SetBounceAddress("nope"), ErrInvalidAddress)
	require.NoError(t, e.SetBounceAddress("Bounce <bounce@example.com>"))
	require.Equal(t, "bounce@example.com", e.BounceAddress())

	msg, err := e.Build()
	require.NoError(t, err)
	from, _ := msg.Session().Property(session.KeyFrom)
	require.Equal(t, "bounce@example.com", from)
}

func TestMessage_IsSnapshot(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	require.NoError(t, e.AddHeader("X-A", "a"))
	e.SetSubject("before")

	msg, err := e.Build()
	require.NoError(t, err)

	_, err = e.AddTo("late@example.com")
	require.NoError(t, err)
	require.NoError(t, e.AddHeader("X-B", "b"))
	e.SetSubject("after")

	require.Len(t, msg.To(), 1)
	require.Equal(t, map[string]string{"X-A": "a"}, msg.Headers())
	require.Equal(t, "before", msg.Subject())

	to := msg.To()
	to[0].Address = "mutated@example.com"
	require.Equal(t, "to@example.com", msg.To()[0].Address)
	require.Equal(t, "from@example.com", msg.From().Address)
}

func TestBuild_SharedSession(t *testing.T) {
	t.Parallel()

	shared := mustSession(t, "shared.example.com")

	for range 2 {
		e := New()
		_, err := e.SetFrom("from@example.com")
		require.NoError(t, err)
		_, err = e.AddTo("to@example.com")
		require.NoError(t, err)
		e.SetMailSession(shared)

		msg, err := e.Build()
		require.NoError(t, err)
		require.Same(t, shared, msg.Session())
		require.Equal(t, "shared.example.com", e.HostName())
	}
}

// renderedBody returns the decoded body bytes and the Content-Type header of
// a built single-part message.
func renderedBody(t *testing.T, msg *Message) ([]byte, string) {
	t.Helper()

	raw, err := msg.Bytes()
	require.NoError(t, err)
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	var r io.Reader = parsed.Body
	if strings.EqualFold(parsed.Header.Get("Content-Transfer-Encoding"), "quoted-printable") {
		r = quotedprintable.NewReader(parsed.Body)
	}
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	return bytes.TrimRight(body, "\r\n"), parsed.Header.Get("Content-Type")
}

func TestBuild_TextEncodedInMessageCharset(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	require.NoError(t, e.SetCharset("ISO-8859-1"))
	e.SetContent("h\u00e9llo", "")

	msg, err := e.Build()
	require.NoError(t, err)

	body, contentType := renderedBody(t, msg)
	require.Equal(t, []byte{'h', 0xe9, 'l', 'l', 'o'}, body)
	require.Equal(t, "text/plain; charset=ISO-8859-1", contentType)
}

func TestBuild_TextEncodedInContentTypeCharset(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	e.SetContent("caf\u00e9", "text/plain; charset=windows-1252")

	msg, err := e.Build()
	require.NoError(t, err)

	body, _ := renderedBody(t, msg)
	require.Equal(t, []byte{'c', 'a', 'f', 0xe9}, body)
}

func TestBuild_UTF8TextUnchanged(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	require.NoError(t, e.SetCharset("UTF-8"))
	e.SetContent("h\u00e9llo", "")

	msg, err := e.Build()
	require.NoError(t, err)

	body, _ := renderedBody(t, msg)
	require.Equal(t, []byte("h\u00e9llo"), body)
}

func TestBuild_UnencodableText(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	require.NoError(t, e.SetCharset("ISO-8859-1"))
	e.SetContent("snowman \u2603", "")

	_, err := e.Build()
	require.ErrorIs(t, err, ErrContentAssembly)

	// The failed build leaves the builder usable.
	e.SetContent("snowman", "")
	_, err = e.Build()
	require.NoError(t, err)
}

func TestBuild_CustomMessageID(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	require.NoError(t, e.AddHeader("Message-ID", "<custom@example.com>"))

	msg, err := e.Build()
	require.NoError(t, err)
	require.Equal(t, "<custom@example.com>", msg.MessageID())

	raw, err := msg.Bytes()
	require.NoError(t, err)
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "<custom@example.com>", parsed.Header.Get("Message-ID"))
	require.Len(t, parsed.Header["Message-Id"], 1)
}
