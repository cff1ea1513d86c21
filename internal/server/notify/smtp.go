package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/dmitrijs2005/imagesigner/internal/logging"
	"github.com/sethvargo/go-retry"
)

// sendMail is a seam for testing smtp.SendMail.
var sendMail = smtp.SendMail

// SMTPNotifier emails the image owner about workflow transitions. Sends
// run under an explicit bounded-retry policy: maxAttempts tries with
// exponential backoff, then the event is dropped with a log line.
type SMTPNotifier struct {
	addr        string
	from        string
	maxAttempts uint64
	backoffBase time.Duration
	logger      logging.Logger
}

func NewSMTPNotifier(addr, from string, maxAttempts int, l logging.Logger) *SMTPNotifier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &SMTPNotifier{
		addr:        addr,
		from:        from,
		maxAttempts: uint64(maxAttempts),
		backoffBase: time.Second,
		logger:      l.With("module", "notify"),
	}
}

func subjectFor(e Event) string {
	switch e.Kind {
	case EventSignatureRequested:
		return "Your image was submitted for signing"
	case EventImageSigned:
		return "Your image has been signed"
	case EventImageRejected:
		return "Your image was rejected"
	default:
		return "Image workflow update"
	}
}

func (n *SMTPNotifier) Notify(ctx context.Context, e Event) error {
	if e.OwnerEmail == "" {
		return nil
	}

	body := fmt.Sprintf("Image %s: %s", e.ImageID, subjectFor(e))
	if e.Comment != "" {
		body += "\r\nReviewer comment: " + e.Comment
	}
	msg := fmt.Appendf(nil, "From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		n.from, e.OwnerEmail, subjectFor(e), body)

	backoff := retry.WithMaxRetries(n.maxAttempts-1, retry.NewExponential(n.backoffBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := sendMail(n.addr, nil, n.from, []string{e.OwnerEmail}, msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		n.logger.Warn(ctx, "dropping notification after retries",
			"kind", string(e.Kind), "image_id", e.ImageID, "error", err.Error())
		return err
	}
	return nil
}
