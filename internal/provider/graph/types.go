// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"encoding/base64"
	"fmt"
	"net/mail"
	"sort"
	"strings"

	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/parser"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject                string            `json:"subject"`
	Body                   messageBody       `json:"body"`
	ToRecipients           []recipient       `json:"toRecipients"`
	CcRecipients           []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients          []recipient       `json:"bccRecipients,omitempty"`
	ReplyTo                []recipient       `json:"replyTo,omitempty"`
	InternetMessageID      string            `json:"internetMessageId,omitempty"`
	InternetMessageHeaders []messageHeader   `json:"internetMessageHeaders,omitempty"`
	Attachments            []graphAttachment `json:"attachments,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// messageHeader is a custom internet message header. Graph only accepts
// names starting with "x-".
type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// graphAttachment represents a file attachment in a Graph API request.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts a built message into a Graph API sendMail
// request body. The body text and any extra MIME parts are read back from
// the rendered message.
func buildSendMailRequest(msg *email.Message) (*sendMailRequest, error) {
	raw, err := msg.Bytes()
	if err != nil {
		return nil, err
	}
	summary, err := parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read back message: %w", err)
	}

	body := messageBody{
		ContentType: "text",
		Content:     summary.TextBody,
	}
	if summary.HTMLBody != "" {
		body.ContentType = "html"
		body.Content = summary.HTMLBody
	}

	attachments := make([]graphAttachment, 0, len(summary.Parts))
	for i, part := range summary.Parts {
		name := part.Filename
		if name == "" {
			// Graph requires a name on every file attachment.
			name = fmt.Sprintf("part-%d", i+1)
		}
		attachments = append(attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         name,
			ContentType:  part.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(part.Content),
		})
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:                msg.Subject(),
			Body:                   body,
			ToRecipients:           recipients(msg.To()),
			CcRecipients:           recipients(msg.Cc()),
			BccRecipients:          recipients(msg.Bcc()),
			ReplyTo:                recipients(msg.ReplyTo()),
			InternetMessageID:      msg.MessageID(),
			InternetMessageHeaders: customHeaders(msg.Headers()),
			Attachments:            attachments,
		},
		SaveToSentItems: true,
	}, nil
}

func recipients(list []*mail.Address) []recipient {
	if len(list) == 0 {
		return nil
	}
	out := make([]recipient, 0, len(list))
	for _, a := range list {
		out = append(out, recipient{
			EmailAddress: emailAddress{Name: a.Name, Address: a.Address},
		})
	}
	return out
}

// customHeaders keeps the x- headers in name order.
func customHeaders(headers map[string]string) []messageHeader {
	var out []messageHeader
	for name, value := range headers {
		if strings.HasPrefix(strings.ToLower(name), "x-") {
			out = append(out, messageHeader{Name: name, Value: value})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
