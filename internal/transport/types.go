package transport

import "context"

// Mini-program delivery states accepted by the channel.
const (
	StateDeveloper = "developer"
	StateTrial     = "trial"
	StateFormal    = "formal"
)

// TemplateMessage is one subscribe-message addressed to a single channel user.
//
// It is built fresh per recipient and never mutated after construction.
// Empty optional fields (Page, MiniProgramState, Lang) mean "not set".
type TemplateMessage struct {
	ToUser           string            `json:"touser"`
	TemplateID       string            `json:"template_id"`
	Page             string            `json:"page,omitempty"`
	MiniProgramState string            `json:"miniprogram_state,omitempty"`
	Lang             string            `json:"lang,omitempty"`
	Data             map[string]string `json:"data,omitempty"`
}

// Sender delivers a template message to the channel.
//
// Implementations must be safe for concurrent use: one publish may call Send
// from several goroutines at once. Failure reasons are opaque to callers beyond
// the retry classification helpers in the notifier package.
type Sender interface {
	Send(ctx context.Context, msg TemplateMessage) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg TemplateMessage) error

func (f SenderFunc) Send(ctx context.Context, msg TemplateMessage) error { return f(ctx, msg) }
