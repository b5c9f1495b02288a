package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ConfirmWord is the only answer that accepts a prompt.
const ConfirmWord = "yes"

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// PromptConfirmer reads one line from In after writing the prompt to Out.
// End of input counts as a refusal.
type PromptConfirmer struct {
	In  io.Reader
	Out io.Writer
}

func (p PromptConfirmer) Confirm(prompt string) (bool, error) {
	if p.Out != nil {
		if _, err := fmt.Fprintf(p.Out, "%s (type %q to continue): ", prompt, ConfirmWord); err != nil {
			return false, err
		}
	}
	if p.In == nil {
		return false, nil
	}
	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.TrimSpace(line) == ConfirmWord, nil
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) (bool, error)

func (f ConfirmFunc) Confirm(prompt string) (bool, error) { return f(prompt) }
