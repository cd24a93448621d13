// Package dispatch turns engine decisions into queued tasks and carries them
// out against Warpcast when they are delivered.
package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

type TaskType string

const (
	TypeLike       TaskType = "like"
	TypeRecast     TaskType = "recast"
	TypeDirectCast TaskType = "direct-cast"
)

// ErrUnknownTaskType is returned by Decode for a well-formed body with an
// unsupported type.
var ErrUnknownTaskType = errors.New("unknown task type")

// Task is the queue body: {"type": ..., "data": {...}}.
type Task struct {
	Type TaskType        `json:"type"`
	Data json.RawMessage `json:"data"`
}

type ReactionData struct {
	Hash string `json:"hash"`
}

type DirectCastData struct {
	RecipientFID   int64  `json:"recipientFid"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func newTask(t TaskType, data any) Task {
	raw, err := json.Marshal(data)
	if err != nil {
		// data is always one of the structs above
		panic(fmt.Sprintf("dispatch: encode %s data: %v", t, err))
	}
	return Task{Type: t, Data: raw}
}

func Like(hash string) Task {
	return newTask(TypeLike, ReactionData{Hash: hash})
}

func Recast(hash string) Task {
	return newTask(TypeRecast, ReactionData{Hash: hash})
}

func DirectCast(recipientFID int64, message, idempotencyKey string) Task {
	return newTask(TypeDirectCast, DirectCastData{
		RecipientFID:   recipientFID,
		Message:        message,
		IdempotencyKey: idempotencyKey,
	})
}

// IdempotencyKey is the hex sha256 of a direct cast message, so the same
// text is delivered at most once per recipient.
func IdempotencyKey(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}

// Encode renders the queue body.
func (t Task) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// Decode parses and validates a queue body.
func Decode(body []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	switch t.Type {
	case TypeLike, TypeRecast, TypeDirectCast:
		return t, nil
	default:
		return Task{}, fmt.Errorf("%w: %q", ErrUnknownTaskType, t.Type)
	}
}

func (t Task) Reaction() (ReactionData, error) {
	var d ReactionData
	if err := json.Unmarshal(t.Data, &d); err != nil {
		return d, fmt.Errorf("decode %s data: %w", t.Type, err)
	}
	if d.Hash == "" {
		return d, fmt.Errorf("%s task has no cast hash", t.Type)
	}
	return d, nil
}

func (t Task) DirectCast() (DirectCastData, error) {
	var d DirectCastData
	if err := json.Unmarshal(t.Data, &d); err != nil {
		return d, fmt.Errorf("decode %s data: %w", t.Type, err)
	}
	if d.RecipientFID <= 0 || d.Message == "" {
		return d, fmt.Errorf("%s task is missing recipient or message", t.Type)
	}
	return d, nil
}
