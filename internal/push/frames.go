package push

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/user/pageflow/internal/types"
)

// Frame is one typed event off the stream.
type Frame struct {
	Type         string              `json:"type"` // connected, notification, keepalive, error
	Notification *types.Notification `json:"notification,omitempty"`
	Message      string              `json:"message,omitempty"`
}

// readFrames parses a text/event-stream body, invoking fn for each decoded
// frame. Lines other than data fields (comments, event names, ids) are
// skipped; a blank line terminates the pending event. Returns when the
// stream ends, with the underlying read error if any.
func readFrames(r io.Reader, fn func(Frame)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	flush := func() {
		if data.Len() == 0 {
			return
		}
		payload := data.String()
		data.Reset()
		var frame Frame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			slog.Warn("unparseable push frame", "error", err)
			return
		}
		fn(frame)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			flush()
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(value, " "))
		}
	}
	flush()
	return scanner.Err()
}
