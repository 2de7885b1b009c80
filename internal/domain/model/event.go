package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Op is the node-level operation a trigger observed.
type Op string

// Trigger operations.
const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
)

// Event is a trigger delivery: one concrete node matching a registered path
// template changed. Before and After hold JSON-shaped values (nil when absent).
type Event struct {
	Seq      uint64            // store change sequence number
	Template string            // matched template, e.g. ghosts/{ghostId}/captureComplete
	Path     string            // concrete node path
	Params   map[string]string // template bindings
	Op       Op
	Before   any
	After    any
	TS       time.Time // time of the originating write
}

// ID identifies a delivery for deduplication.
func (e *Event) ID() string {
	return fmt.Sprintf("%d|%s", e.Seq, e.Path)
}

// Param returns a bound template parameter.
func (e *Event) Param(name string) string {
	return e.Params[name]
}

// ShardKey keys ordering: deliveries under the same top-level entity share a key.
func (e *Event) ShardKey() string {
	segs := strings.SplitN(e.Path, "/", 3)
	if len(segs) >= 2 {
		return segs[0] + "/" + segs[1]
	}
	return e.Path
}

// DecodeAfter decodes the new node value into out.
func (e *Event) DecodeAfter(out any) error {
	return DecodeValue(e.After, out)
}

// DecodeValue converts a JSON-shaped value into out.
func DecodeValue(v any, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}
