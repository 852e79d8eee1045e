package graph

import (
	"github.com/shineum/mail-relay/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject           string      `json:"subject"`
	Body              messageBody `json:"body"`
	From              *recipient  `json:"from,omitempty"`
	ToRecipients      []recipient `json:"toRecipients"`
	InternetMessageID string      `json:"internetMessageId,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts a message into a sendMail request body.
// Graph accepts a single body, so HTML wins over text when both are set.
func buildSendMailRequest(msg *email.Message) *sendMailRequest {
	body := messageBody{
		ContentType: "text",
		Content:     msg.Text,
	}
	if msg.HTML != "" {
		body.ContentType = "html"
		body.Content = msg.HTML
	}

	addrs := msg.Recipients()
	toRecipients := make([]recipient, 0, len(addrs))
	for _, addr := range addrs {
		toRecipients = append(toRecipients, recipient{
			EmailAddress: emailAddress{Address: addr},
		})
	}

	var from *recipient
	if msg.From != "" {
		from = &recipient{EmailAddress: emailAddress{Address: msg.From}}
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:           msg.Subject,
			Body:              body,
			From:              from,
			ToRecipients:      toRecipients,
			InternetMessageID: msg.MessageID,
		},
		SaveToSentItems: true,
	}
}
