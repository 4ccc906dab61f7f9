package ses

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/provider"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	mock.Mock
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sesv2.SendEmailOutput)
	return out, args.Error(1)
}

func buildMessage(t *testing.T) *email.Message {
	t.Helper()

	e := email.New()
	_, err := e.SetFromFormat("Sender", "from@example.com")
	require.NoError(t, err)
	require.NoError(t, e.AddToList("to1@example.com", "to2@example.com"))
	_, err = e.AddCc("cc@example.com")
	require.NoError(t, err)
	_, err = e.AddBcc("bcc@example.com")
	require.NoError(t, err)
	require.NoError(t, e.SetHostName("smtp.example.com"))
	e.SetSubject("Quarterly report")
	e.SetContent("Hello, World!", "")

	msg, err := e.Build()
	require.NoError(t, err)
	return msg
}

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient("sender@example.com", &mockSESClient{})
	require.Equal(t, "ses", p.Name())
}

func TestSend_RawMessage(t *testing.T) {
	t.Parallel()

	msg := buildMessage(t)
	client := &mockSESClient{}
	client.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
		raw := string(in.Content.Raw.Data)
		return aws.ToString(in.FromEmailAddress) == "ses@example.com" &&
			in.Content.Simple == nil &&
			strings.Contains(raw, "Subject: Quarterly report") &&
			strings.Contains(raw, "Message-ID: "+msg.MessageID()) &&
			!strings.Contains(raw, "bcc@example.com")
	})).Return(&sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil)

	p := NewWithClient("ses@example.com", client)
	require.NoError(t, p.Send(context.Background(), msg))
	client.AssertExpectations(t)
}

func TestSend_Destination(t *testing.T) {
	t.Parallel()

	msg := buildMessage(t)
	client := &mockSESClient{}
	client.On("SendEmail", mock.Anything, mock.Anything).
		Return(&sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil)

	p := NewWithClient("ses@example.com", client)
	require.NoError(t, p.Send(context.Background(), msg))

	in := client.Calls[0].Arguments.Get(1).(*sesv2.SendEmailInput)
	require.Equal(t, []string{"to1@example.com", "to2@example.com"}, in.Destination.ToAddresses)
	require.Equal(t, []string{"cc@example.com"}, in.Destination.CcAddresses)
	require.Equal(t, []string{"bcc@example.com"}, in.Destination.BccAddresses)
}

func TestSend_DefaultsToMessageFrom(t *testing.T) {
	t.Parallel()

	msg := buildMessage(t)
	client := &mockSESClient{}
	client.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
		return aws.ToString(in.FromEmailAddress) == "from@example.com"
	})).Return(&sesv2.SendEmailOutput{}, nil)

	p := NewWithClient("", client)
	require.NoError(t, p.Send(context.Background(), msg))
	client.AssertExpectations(t)
}

func TestSend_APIError(t *testing.T) {
	t.Parallel()

	errThrottled := errors.New("throttling: rate exceeded")
	client := &mockSESClient{}
	client.On("SendEmail", mock.Anything, mock.Anything).Return(nil, errThrottled).Once()

	p := NewWithClient("ses@example.com", client)
	err := p.Send(context.Background(), buildMessage(t))
	require.ErrorIs(t, err, errThrottled)
	client.AssertNumberOfCalls(t, "SendEmail", 1)
}

func TestProviderInterface(t *testing.T) {
	t.Parallel()

	var _ provider.Provider = (*SESProvider)(nil)
}
