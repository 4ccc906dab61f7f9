package email

import (
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
)

// MimeMultipart is a simple in-memory Multipart container.
type MimeMultipart struct {
	subtype  string
	boundary string
	parts    []mimePart
}

type mimePart struct {
	header textproto.MIMEHeader
	body   []byte
}

// NewMultipart creates an empty multipart/<subtype> container with a random
// boundary. An empty subtype means "mixed".
func NewMultipart(subtype string) *MimeMultipart {
	if subtype == "" {
		subtype = "mixed"
	}
	return &MimeMultipart{
		subtype:  subtype,
		boundary: multipart.NewWriter(io.Discard).Boundary(),
	}
}

// AddPart appends a part with the given content type.
func (m *MimeMultipart) AddPart(contentType string, body []byte) {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", contentType)
	m.AddPartWithHeader(header, body)
}

// AddPartWithHeader appends a part with a caller-supplied header.
func (m *MimeMultipart) AddPartWithHeader(header textproto.MIMEHeader, body []byte) {
	m.parts = append(m.parts, mimePart{header: header, body: body})
}

// Len returns the number of parts.
func (m *MimeMultipart) Len() int {
	return len(m.parts)
}

// Boundary returns the part delimiter.
func (m *MimeMultipart) Boundary() string {
	return m.boundary
}

// ContentType returns multipart/<subtype> with the boundary parameter.
func (m *MimeMultipart) ContentType() string {
	return mime.FormatMediaType("multipart/"+m.subtype, map[string]string{"boundary": m.boundary})
}

// WriteTo writes all parts followed by the closing delimiter.
func (m *MimeMultipart) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	mw := multipart.NewWriter(cw)
	if err := mw.SetBoundary(m.boundary); err != nil {
		return cw.n, err
	}

	for _, p := range m.parts {
		pw, err := mw.CreatePart(p.header)
		if err != nil {
			return cw.n, err
		}
		if _, err := pw.Write(p.body); err != nil {
			return cw.n, err
		}
	}

	if err := mw.Close(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
