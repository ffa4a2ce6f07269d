package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// document is the persisted envelope. Tree is the node tree's own
// serialization; UI is opaque editor state and may be absent.
type document struct {
	Tree json.RawMessage `json:"tree"`
	UI   json.RawMessage `json:"ui,omitempty"`
}

// Compose splices a serialized tree and an optional UI layout into one
// document. Both fragments must be valid JSON.
func Compose(tree, ui []byte) (string, error) {
	if !json.Valid(tree) {
		return "", fmt.Errorf("storage: tree fragment is not valid JSON")
	}
	d := document{Tree: tree}
	if len(bytes.TrimSpace(ui)) > 0 {
		if !json.Valid(ui) {
			return "", fmt.Errorf("storage: ui fragment is not valid JSON")
		}
		d.UI = ui
	}
	out, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("storage: composing document: %w", err)
	}
	return string(out), nil
}

// Split separates a document produced by Compose. A bare tree document
// (one without the envelope) is accepted and returned with a nil UI.
func Split(doc string) (tree, ui []byte, err error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(doc), &probe); err != nil {
		return nil, nil, fmt.Errorf("storage: decoding document: %w", err)
	}
	t, ok := probe["tree"]
	if !ok {
		return []byte(doc), nil, nil
	}
	if u, ok := probe["ui"]; ok && !bytes.Equal(bytes.TrimSpace(u), []byte("null")) {
		ui = u
	}
	return t, ui, nil
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Open returns the backend named kind. For badger, path is the database
// directory; for file, the document path. Badger stores implement
// io.Closer and must be closed by the caller.
func Open(kind, path string, logger *zap.Logger) (Storage, error) {
	switch kind {
	case BackendFile, "":
		if path == "" {
			return nil, fmt.Errorf("storage: file backend needs a path")
		}
		return NewFile(path), nil
	case BackendBadger:
		return OpenBadger(BadgerConfig{Path: path, Logger: logger})
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", kind)
	}
}
