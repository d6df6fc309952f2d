package engine

import (
	"context"
	"fmt"

	"github.com/michaelbrown/scriptforge/internal/events"
	"github.com/michaelbrown/scriptforge/internal/llm"
	"github.com/michaelbrown/scriptforge/internal/script"
)

// Generate asks the model for a script, extracts the code from its reply,
// and persists it to the workspace. The conversation history is the
// caller's: refinements pass the prior exchange plus the new instruction.
func (e *Engine) Generate(ctx context.Context, client llm.Client, messages []llm.Message) (*script.Script, error) {
	reply, err := client.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}

	source := llm.ExtractSource(reply)
	if source == "" {
		return nil, fmt.Errorf("model reply contained no code")
	}

	scr, err := e.ws.Write(source)
	if err != nil {
		return nil, err
	}
	e.bus.Publish(events.Generated(scr.Path))
	return scr, nil
}

// History lists previously generated scripts, newest first.
func (e *Engine) History() ([]script.Entry, error) {
	return e.ws.List()
}

// ReadScript returns the source of a previously generated script by name.
func (e *Engine) ReadScript(name string) (string, error) {
	return e.ws.Read(name)
}
