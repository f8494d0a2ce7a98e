package push

import (
	"strings"
	"testing"
)

func TestReadFramesParsesEventStream(t *testing.T) {
	stream := strings.Join([]string{
		": welcome comment",
		`data: {"type":"connected"}`,
		"",
		`data: {"type":"keepalive"}`,
		"",
		"event: message",
		`data: {"type":"notification","notification":{"eventId":"e1","title":"done"}}`,
		"",
		"data: not json at all",
		"",
		`data: {"type":"error","message":"server hiccup"}`,
		"",
	}, "\n")

	var frames []Frame
	err := readFrames(strings.NewReader(stream), func(f Frame) {
		frames = append(frames, f)
	})
	if err != nil {
		t.Fatalf("readFrames failed: %v", err)
	}

	// The garbage data line is skipped, everything else decodes.
	if len(frames) != 4 {
		t.Fatalf("decoded %d frames, want 4", len(frames))
	}
	if frames[0].Type != "connected" || frames[1].Type != "keepalive" {
		t.Errorf("frame types = %s, %s", frames[0].Type, frames[1].Type)
	}
	if frames[2].Type != "notification" || frames[2].Notification == nil || frames[2].Notification.EventID != "e1" {
		t.Errorf("notification frame = %+v", frames[2])
	}
	if frames[3].Type != "error" || frames[3].Message != "server hiccup" {
		t.Errorf("error frame = %+v", frames[3])
	}
}

func TestReadFramesMultilineData(t *testing.T) {
	stream := "data: {\"type\":\ndata: \"connected\"}\n\n"

	var frames []Frame
	if err := readFrames(strings.NewReader(stream), func(f Frame) {
		frames = append(frames, f)
	}); err != nil {
		t.Fatalf("readFrames failed: %v", err)
	}
	if len(frames) != 1 || frames[0].Type != "connected" {
		t.Errorf("frames = %+v", frames)
	}
}

func TestReadFramesFlushesTrailingEvent(t *testing.T) {
	// Stream ends without the final blank line.
	stream := `data: {"type":"connected"}`

	var frames []Frame
	if err := readFrames(strings.NewReader(stream), func(f Frame) {
		frames = append(frames, f)
	}); err != nil {
		t.Fatalf("readFrames failed: %v", err)
	}
	if len(frames) != 1 {
		t.Errorf("decoded %d frames, want 1", len(frames))
	}
}
