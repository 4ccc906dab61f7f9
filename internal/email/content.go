package email

import (
	"bytes"
	"fmt"
	"io"
	"mime"

	gomail "github.com/wneessen/go-mail"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// defaultTextType is used for text bodies without an explicit content type.
const defaultTextType = "text/plain"

// Content is the message body. It is either TextContent or MultipartContent;
// a nil Content means no body was set.
type Content interface {
	isContent()
}

// TextContent is a textual body.
type TextContent struct {
	Body string
}

// MultipartContent is a pre-built multipart container used verbatim.
type MultipartContent struct {
	Container Multipart
}

func (TextContent) isContent()      {}
func (MultipartContent) isContent() {}

// Multipart is an already encoded multipart body. ContentType returns the
// container's own type including its boundary parameter.
type Multipart interface {
	ContentType() string
	WriteTo(w io.Writer) (int64, error)
}

// ContentAssembler holds the body of a message and the content type that was
// explicitly set for it, if any.
type ContentAssembler struct {
	content     Content
	contentType string
}

// NewContentAssembler creates an assembler without content.
func NewContentAssembler() *ContentAssembler {
	return &ContentAssembler{}
}

// SetContent stores a text body with its content type. An empty content type
// selects text/plain with the message charset at build time.
func (c *ContentAssembler) SetContent(text, contentType string) {
	c.content = TextContent{Body: text}
	c.UpdateContentType(contentType)
}

// SetMultipart stores a multipart body. The explicit content type is left as
// it is.
func (c *ContentAssembler) SetMultipart(container Multipart) {
	if container == nil {
		c.content = nil
		return
	}
	c.content = MultipartContent{Container: container}
}

// UpdateContentType sets the explicit content type. An empty value clears it.
func (c *ContentAssembler) UpdateContentType(contentType string) {
	c.contentType = contentType
}

// Content returns the current body, nil when none was set.
func (c *ContentAssembler) Content() Content {
	return c.content
}

// ContentType returns the explicit content type, empty when none was set.
func (c *ContentAssembler) ContentType() string {
	return c.contentType
}

// Body describes the body of a built message.
type Body struct {
	// Content is the payload exactly as it was set. A multipart container is
	// kept by reference.
	Content Content

	// ContentType is the type the body was written with. For a multipart
	// container the transport appends the message charset as an extra
	// parameter on the wire; this field holds the type without it.
	ContentType string

	// Explicit reports whether ContentType was set by the caller rather than
	// defaulted.
	Explicit bool
}

// assemble attaches the body to msg following the content rules: text uses
// the explicit type or text/plain with charset, a multipart container uses the
// explicit type or its own.
func (c *ContentAssembler) assemble(msg *gomail.Msg, charset string) (Body, error) {
	body := Body{Content: c.content, ContentType: c.contentType, Explicit: c.contentType != ""}

	switch content := c.content.(type) {
	case nil:
		if !body.Explicit {
			body.ContentType = textType(charset)
		}
		if err := setTextBody(msg, body.ContentType, ""); err != nil {
			return Body{}, err
		}

	case TextContent:
		if !body.Explicit {
			body.ContentType = textType(charset)
		}
		if err := setTextBody(msg, body.ContentType, content.Body); err != nil {
			return Body{}, err
		}

	case MultipartContent:
		if !body.Explicit {
			body.ContentType = content.Container.ContentType()
		}
		var buf bytes.Buffer
		if _, err := content.Container.WriteTo(&buf); err != nil {
			return Body{}, fmt.Errorf("%w: failed to encode multipart body: %w", ErrContentAssembly, err)
		}
		raw := buf.Bytes()
		msg.SetBodyWriter(gomail.ContentType(body.ContentType), func(w io.Writer) (int64, error) {
			n, err := w.Write(raw)
			return int64(n), err
		}, gomail.WithPartEncoding(gomail.NoEncoding))

	default:
		return Body{}, fmt.Errorf("%w: unsupported content %T", ErrContentAssembly, content)
	}

	return body, nil
}

// setTextBody splits a charset parameter off contentType so the transport
// can emit it, keeping all other parameters. The text is converted to that
// charset.
func setTextBody(msg *gomail.Msg, contentType, text string) error {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("%w: content type %q: %w", ErrContentAssembly, contentType, err)
	}

	var opts []gomail.PartOption
	if cs, ok := params["charset"]; ok {
		delete(params, "charset")
		if text, err = encodeText(text, cs); err != nil {
			return err
		}
		opts = append(opts, gomail.WithPartCharset(gomail.Charset(cs)))
	}

	ct := mime.FormatMediaType(mediaType, params)
	if ct == "" {
		return fmt.Errorf("%w: content type %q cannot be formatted", ErrContentAssembly, contentType)
	}
	msg.SetBodyString(gomail.ContentType(ct), text, opts...)
	return nil
}

// encodeText converts text from UTF-8 to charset. Charsets that are
// registered but have no x/text encoder are written unchanged.
func encodeText(text, charset string) (string, error) {
	enc, err := ianaindex.MIME.Encoding(charset)
	if err != nil {
		return "", fmt.Errorf("%w: charset %q: %w", ErrContentAssembly, charset, err)
	}
	if enc == nil || enc == unicode.UTF8 {
		return text, nil
	}
	out, err := enc.NewEncoder().String(text)
	if err != nil {
		return "", fmt.Errorf("%w: body cannot be encoded as %s: %w", ErrContentAssembly, charset, err)
	}
	return out, nil
}

func textType(charset string) string {
	if charset == "" {
		return defaultTextType
	}
	return mime.FormatMediaType(defaultTextType, map[string]string{"charset": charset})
}

// contentTypeCharset returns the charset parameter of contentType, if any.
func contentTypeCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}
