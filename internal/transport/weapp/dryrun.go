package weapp

import (
	"context"
	"sync"

	"weappnotify/internal/transport"
	logx "weappnotify/pkg/logx"
)

// DryRun logs messages instead of sending them. It keeps the last few for inspection.
type DryRun struct {
	log logx.Logger

	mu   sync.Mutex
	last []transport.TemplateMessage
	keep int
}

func NewDryRun(log logx.Logger) *DryRun {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DryRun{log: log, keep: 100}
}

func (d *DryRun) Send(ctx context.Context, msg transport.TemplateMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.log.Info("dry-run send",
		logx.String("touser", msg.ToUser),
		logx.String("template_id", msg.TemplateID),
		logx.String("page", msg.Page),
		logx.String("state", msg.MiniProgramState),
		logx.String("lang", msg.Lang),
		logx.Int("data_fields", len(msg.Data)),
	)
	d.mu.Lock()
	d.last = append(d.last, msg)
	if len(d.last) > d.keep {
		d.last = append(d.last[:0:0], d.last[len(d.last)-d.keep:]...)
	}
	d.mu.Unlock()
	return nil
}

// Sent returns a copy of the retained messages, oldest first.
func (d *DryRun) Sent() []transport.TemplateMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]transport.TemplateMessage(nil), d.last...)
}
