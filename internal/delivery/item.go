// Package delivery is the reliable-delivery layer for outgoing user
// messages: bounded retransmits over the correlation engine, with the
// queue persisted so a restart resumes outstanding items.
package delivery

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/meshctl/internal/protocol/frame"
)

// Status is the delivery lifecycle of one queued item.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusAcked   Status = "acked"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status ends scheduling.
func (s Status) Terminal() bool {
	return s == StatusAcked || s == StatusFailed
}

// TargetKind distinguishes direct and channel deliveries.
type TargetKind string

const (
	TargetContact TargetKind = "contact"
	TargetChannel TargetKind = "channel"
)

// Item is one outgoing delivery tracked by stable ID.
type Item struct {
	ID            string          `json:"id"`
	Kind          TargetKind      `json:"kind"`
	To            frame.PublicKey `json:"to,omitempty"`
	Channel       uint8           `json:"channel,omitempty"`
	Text          string          `json:"text"`
	Attempts      int             `json:"attempts"`
	Status        Status          `json:"status"`
	QueuedAt      time.Time       `json:"queued_at"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

func (it Item) Validate() error {
	if strings.TrimSpace(it.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidItem)
	}
	if it.Kind != TargetContact && it.Kind != TargetChannel {
		return fmt.Errorf("%w: kind %q", ErrInvalidItem, it.Kind)
	}
	if it.Text == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidItem)
	}
	return nil
}

// Queue is the persistence collaborator for the delivery service. Put
// upserts by item ID; List returns every stored item, terminal or not,
// so a cold start can both resume work and report past failures.
type Queue interface {
	Put(item Item) error
	Delete(id string) error
	List() ([]Item, error)
}
