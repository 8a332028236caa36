package dialog

import (
	"context"

	"github.com/releaserelay/release_layer/pkg/logger"
)

// LogPrompter writes prompts to the service log. It stands in when no chat
// transport is attached.
type LogPrompter struct {
	log *logger.Logger
}

func NewLogPrompter(log *logger.Logger) *LogPrompter {
	if log == nil {
		log = logger.NewDefault("dialog-prompter")
	}
	return &LogPrompter{log: log}
}

func (p *LogPrompter) Prompt(_ context.Context, key Key, message string) {
	p.log.WithField("channel", key.Channel).
		WithField("actor", key.Actor).
		Info(message)
}
