package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/huh"

	"github.com/roach88/stocksync/internal/op"
)

// terminalPrompter asks on the terminal whether to keep or discard an
// exhausted operation. Escalations run concurrently, so prompts are
// serialized to keep one question on screen at a time.
type terminalPrompter struct {
	mu         sync.Mutex
	in         io.Reader
	out        io.Writer
	accessible bool
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: in, out: out}
}

func (p *terminalPrompter) Prompt(ctx context.Context, o op.Operation, cause error) (op.Disposition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	description := "Delivery failed."
	if cause != nil {
		description = cause.Error()
	}

	keep := true
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Sync failed for %s (%s)", o.ID, describe(o))).
				Description(description).
				Affirmative("Retry later").
				Negative("Discard").
				Value(&keep),
		),
	).WithInput(p.in).WithOutput(p.out).WithAccessible(p.accessible)

	if err := form.RunWithContext(ctx); err != nil {
		return 0, fmt.Errorf("prompt for %s: %w", o.ID, err)
	}
	if keep {
		return op.DispositionRequeue, nil
	}
	return op.DispositionDiscard, nil
}
