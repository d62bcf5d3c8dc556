package notify

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestLogNotifierWritesRecipientAndType(t *testing.T) {
	var lines []string
	n := LogNotifier{Printf: func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}}
	err := n.Notify(context.Background(), "influencer-9", Event{
		Type:            "collaboration.created",
		CollaborationID: "c1",
		Message:         " hi ",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "recipient=influencer-9") || !strings.Contains(lines[0], `message="hi"`) {
		t.Fatalf("lines = %v", lines)
	}
}
