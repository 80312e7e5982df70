package clients

import (
	"fmt"

	"github.com/slack-go/slack"

	"github.com/sandboxfirst/uom/log"
	"github.com/sandboxfirst/uom/pkg/breaker"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// NotifyClient posts escalation messages to the reviewer Slack channel.
// The orchestrator calls it when a security decision routes a job to human
// review.
type NotifyClient struct {
	webhookURL string
	breaker    *breaker.Service
}

func NewNotifyClient(webhookURL string, svc *breaker.Service) *NotifyClient {
	return &NotifyClient{webhookURL: webhookURL, breaker: svc}
}

// NotifyReview posts a message describing why job was routed to the review
// queue or blocked outright. A nil/empty webhookURL makes this a no-op so
// escalation notifications can be disabled without branching at call
// sites.
func (c *NotifyClient) NotifyReview(job *types.Job, decision types.SecurityDecision) error {
	if c.webhookURL == "" {
		return nil
	}

	color := "warning"
	if decision.Action == types.SecurityBlock {
		color = "danger"
	}

	msg := &slack.WebhookMessage{
		Attachments: []slack.Attachment{
			{
				Color: color,
				Title: fmt.Sprintf("Job %s requires review", job.ID),
				Text:  decision.Reason,
				Fields: []slack.AttachmentField{
					{Title: "Action", Value: string(decision.Action), Short: true},
					{Title: "Filename", Value: job.File.Filename, Short: true},
					{Title: "Review Queue", Value: decision.ReviewQueue, Short: true},
					{Title: "Org", Value: job.User.OrgID, Short: true},
				},
			},
		},
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, slack.PostWebhook(c.webhookURL, msg)
	})
	if err != nil {
		log.LogNoRequestID("failed to send review escalation", "jobId", job.ID, "err", err)
	}
	return err
}
