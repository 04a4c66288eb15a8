// Package wsremote carries a remote.Node over websockets.
//
// Server exposes one endpoint per user, /ws/users/{user}. After the upgrade
// the server pushes the user's whole document whenever it changes and
// answers write frames with acks. Client implements remote.Source on top of
// that endpoint: it dials lazily, redials at a fixed interval after any
// failure, and matches acks to writes by id.
//
// Frames are JSON objects with a "type" of doc, error, write or ack.
package wsremote

import "net/url"

const (
	typeDoc   = "doc"
	typeError = "error"
	typeWrite = "write"
	typeAck   = "ack"
)

type frame struct {
	Type  string         `json:"type"`
	ID    string         `json:"id,omitempty"`
	Path  string         `json:"path,omitempty"`
	Value any            `json:"value"`
	Doc   map[string]any `json:"doc,omitempty"`
	Error string         `json:"error,omitempty"`
}

// UserPath returns the endpoint path for a user id.
func UserPath(user string) string {
	return "/ws/users/" + url.PathEscape(user)
}

func unescape(segment string) (string, error) {
	return url.PathUnescape(segment)
}
