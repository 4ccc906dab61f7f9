// Package parser reads rendered RFC 5322 messages back into a flat summary.
// It is used to inspect composed messages and to split address-list input.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"
)

// Summary is the readable content of a rendered message.
type Summary struct {
	From        string
	To          []string
	Cc          []string
	ReplyTo     []string
	Subject     string
	MessageID   string
	Date        time.Time
	ContentType string
	TextBody    string
	HTMLBody    string
	Parts       []Part
	Headers     map[string][]string
}

// Part is a non-body MIME part such as an attachment.
type Part struct {
	Filename    string
	ContentType string
	Content     []byte
}

var wordDecoder = new(mime.WordDecoder)

// Parse parses a raw RFC 5322 message. It handles plain text messages,
// multipart messages with text/html bodies, and additional parts.
// Unrecognized MIME parts are logged as warnings.
func Parse(raw []byte) (*Summary, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &Summary{
		Headers: make(map[string][]string, len(msg.Header)),
	}
	for key, values := range msg.Header {
		result.Headers[key] = values
	}

	result.From = decodeHeader(msg.Header.Get("From"))
	result.Subject = decodeHeader(msg.Header.Get("Subject"))
	result.MessageID = msg.Header.Get("Message-Id")
	result.To = AddressList(msg.Header.Get("To"))
	result.Cc = AddressList(msg.Header.Get("Cc"))
	result.ReplyTo = AddressList(msg.Header.Get("Reply-To"))
	if date, err := msg.Header.Date(); err == nil {
		result.Date = date
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	result.ContentType = contentType

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// If content type is unparseable, treat as plain text
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message body: %w", readErr)
		}
		result.TextBody = string(body)
		return result, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, result); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return result, nil
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	switch mediaType {
	case "text/plain":
		result.TextBody = string(body)
	case "text/html":
		result.HTMLBody = string(body)
	default:
		slog.Warn("unrecognized top-level content type",
			"content_type", mediaType,
		)
		result.TextBody = string(body)
	}

	return result, nil
}

// parseMultipart processes a multipart MIME body, extracting the first
// text/plain and text/html parts and collecting everything else as Parts.
func parseMultipart(body io.Reader, boundary string, result *Summary) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := parseMultipart(part, nestedBoundary, result); err != nil {
				slog.Warn("failed to parse nested multipart",
					"error", err,
				)
			}
			continue
		}

		// multipart.Reader already strips quoted-printable.
		content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		isAttachment := strings.HasPrefix(part.Header.Get("Content-Disposition"), "attachment")
		switch {
		case !isAttachment && mediaType == "text/plain" && result.TextBody == "":
			result.TextBody = string(content)
		case !isAttachment && mediaType == "text/html" && result.HTMLBody == "":
			result.HTMLBody = string(content)
		default:
			result.Parts = append(result.Parts, Part{
				Filename:    extractFilename(part, params),
				ContentType: mediaType,
				Content:     content,
			})
		}
	}

	return nil
}

// decodeBody reads r and reverses the given Content-Transfer-Encoding.
func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))

	if encoding == "quoted-printable" {
		return io.ReadAll(quotedprintable.NewReader(r))
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if encoding != "base64" {
		return raw, nil
	}

	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		// Try with RawStdEncoding for unpadded base64
		decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 content: %w", err)
		}
	}
	return decoded, nil
}

// extractFilename extracts the filename from a MIME part, checking both
// Content-Disposition and Content-Type parameters.
func extractFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	return params["name"]
}

func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

// AddressList splits a comma-separated address list into bare addresses.
func AddressList(raw string) []string {
	return splitAddresses(raw, func(a *mail.Address) string { return a.Address })
}

// SplitAddressList splits a comma-separated address list, keeping display
// names in their RFC 5322 form.
func SplitAddressList(raw string) []string {
	return splitAddresses(raw, (*mail.Address).String)
}

func splitAddresses(raw string, format func(*mail.Address) string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		// Fall back to simple comma split if RFC 5322 parsing fails
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, format(addr))
	}
	return result
}
