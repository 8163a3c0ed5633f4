package journal

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// EventTypeProcessed is the CloudEvents type of an outcome notification.
const EventTypeProcessed = "hotfolder.document.processed"

// Notifier posts a CloudEvent per finished run. A Notifier without a
// target is a no-op.
type Notifier struct {
	client cloudevents.Client
	source string
}

// NewNotifier returns a Notifier posting to target over HTTP. An empty
// target yields a no-op Notifier.
func NewNotifier(target, source string) (*Notifier, error) {
	if target == "" {
		return &Notifier{}, nil
	}
	c, err := cloudevents.NewClientHTTP(cloudevents.WithTarget(target))
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudevents client: %w", err)
	}
	return &Notifier{client: c, source: source}, nil
}

func (n *Notifier) Enabled() bool { return n != nil && n.client != nil }

// Notify sends rec as the event payload.
func (n *Notifier) Notify(ctx context.Context, rec *models.ProcessingRecord) error {
	if !n.Enabled() {
		return nil
	}
	e := cloudevents.NewEvent()
	e.SetID(rec.RunID)
	e.SetSource(n.source)
	e.SetType(EventTypeProcessed)
	e.SetSubject(rec.HotfolderID)
	e.SetTime(rec.FinishedAt)
	if err := e.SetData(cloudevents.ApplicationJSON, rec); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if res := n.client.Send(ctx, e); !cloudevents.IsACK(res) {
		return fmt.Errorf("send event %s: %w", rec.RunID, res)
	}
	return nil
}
