// internal/models/message.go
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// EmbedField is one name/value pair in a structured message. The engine never
// produces platform markup; the presentation adapter renders these.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Control is a labeled one-shot control attached to a decision request.
type Control struct {
	Label string `json:"label"`
	Token string `json:"token"`
	Style string `json:"style"` // "success" or "danger", advisory
}

// DecisionRequest is the structured payload posted to a review surface.
type DecisionRequest struct {
	ApplicationID int64        `json:"applicationId"`
	Title         string       `json:"title"`
	Fields        []EmbedField `json:"fields"`
	Footer        string       `json:"footer"`
	Controls      []Control    `json:"controls"`
}

// ControlToken encodes a decision action and application id into the opaque
// correlation token carried by a one-shot control.
func ControlToken(action Action, applicationID int64) string {
	return fmt.Sprintf("%s:%d", action, applicationID)
}

// ParseControlToken is the inverse of ControlToken. Tokens produced by other
// features fail with ok=false and must be ignored by the caller.
func ParseControlToken(token string) (Action, int64, bool) {
	raw, idStr, found := strings.Cut(token, ":")
	if !found {
		return "", 0, false
	}
	action := Action(raw)
	if action != ActionAccept && action != ActionDeny {
		return "", 0, false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return action, id, true
}
