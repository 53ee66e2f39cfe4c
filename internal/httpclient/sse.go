package httpclient

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent is one decoded server-sent event. Anthropic and OpenAI-style
// providers put the whole payload in Data; Anthropic also sets Event to
// the named event type ("message_start", "content_block_delta", ...).
// Providers that don't use named events (OpenAI-compatible, Gemini) just
// ignore Event and read Data.
type SSEEvent struct {
	Event string
	Data  string
}

// ScanSSE reads r line by line and calls onEvent for each "data: ..."
// payload, accumulating any preceding "event: ..." line the same way the
// teacher's anthropic.go and google.go scanners did inline. It stops at
// EOF, a scanner error, or the literal "[DONE]" sentinel OpenAI-style
// providers send. The returned error is nil on a clean EOF or [DONE].
//
// onEvent returning false stops scanning early (used when the caller
// decides no more chunks are needed, e.g. context cancellation already
// observed by the caller).
func ScanSSE(r io.Reader, onEvent func(ev SSEEvent) bool) error {
	scanner := bufio.NewScanner(r)
	// Upstream payloads can carry long tool-call argument deltas; grow
	// the buffer well past bufio's 64KiB default line cap.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	var pendingEvent string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			pendingEvent = ""
			continue
		case strings.HasPrefix(line, ":"):
			// Comment / heartbeat line; ignore.
			continue
		case strings.HasPrefix(line, "event:"):
			pendingEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return nil
			}
			if !onEvent(SSEEvent{Event: pendingEvent, Data: data}) {
				return nil
			}
		}
	}

	return scanner.Err()
}
