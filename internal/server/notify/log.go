package notify

import (
	"context"

	"github.com/dmitrijs2005/imagesigner/internal/logging"
)

// LogNotifier writes events to the structured log. It is the default
// when no SMTP server is configured.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(l logging.Logger) *LogNotifier {
	return &LogNotifier{logger: l.With("module", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, e Event) error {
	n.logger.Info(ctx, "workflow event",
		"kind", string(e.Kind), "image_id", e.ImageID, "owner", e.Owner, "comment", e.Comment)
	return nil
}
