// Package storage defines the tool-call side table. Every tool call the
// gateway synthesises is recorded so later turns can recover the tool name
// from a tool_call_id.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by Lookup for unknown ids.
var ErrNotFound = errors.New("tool call not found")

// ToolCallRecord is one synthesised tool call.
type ToolCallRecord struct {
	ID          string
	Name        string
	Args        json.RawMessage
	Description string
	CreatedAt   time.Time
}

// ToolCallStore persists ToolCallRecords.
type ToolCallStore interface {
	// Store records rec, replacing any record with the same id.
	Store(ctx context.Context, rec ToolCallRecord) error
	// Lookup returns the record for id or ErrNotFound.
	Lookup(ctx context.Context, id string) (ToolCallRecord, error)
	Close() error
}
