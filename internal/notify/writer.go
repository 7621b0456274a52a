package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Writer prints messages instead of sending them. Used by --dry-run.
type Writer struct {
	mu  sync.Mutex
	Out io.Writer
}

func (w *Writer) Deliver(_ context.Context, msg Message, recipients []string) []Delivery {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Delivery, 0, len(recipients))
	_, err := fmt.Fprintf(w.Out, "To: %s\nSubject: %s\n\n%s\n", strings.Join(recipients, ", "), msg.Subject, msg.Body)
	for _, r := range recipients {
		out = append(out, Delivery{Recipient: r, Err: err})
	}
	return out
}
