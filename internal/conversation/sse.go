package conversation

import (
	"encoding/json"
	"strings"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

type lineKind int

const (
	lineIgnored lineKind = iota
	lineMalformed
	lineContent
	lineDone
	lineError
)

type streamPayload struct {
	Content string `json:"content"`
	Error   string `json:"error"`
}

// parseLine classifies one line of the reply stream. Only `data:` lines
// carry payload; everything else (comments, event names, blanks) is ignored.
func parseLine(line string) (lineKind, string) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return lineIgnored, ""
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if data == doneMarker {
		return lineDone, ""
	}

	var p streamPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return lineMalformed, data
	}
	if p.Error != "" {
		return lineError, p.Error
	}
	if p.Content == "" {
		return lineIgnored, ""
	}
	return lineContent, p.Content
}
