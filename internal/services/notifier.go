package services

import (
	"context"
	"time"
)

const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
	ChangeCloned  = "cloned"
)

// ChangeEvent is published after a committed mutation so other windows can
// refresh. Delivery is fire-and-forget and not part of the correctness
// contract.
type ChangeEvent struct {
	Type          string    `json:"type"`
	ConfigID      string    `json:"configId"`
	AppID         string    `json:"appId"`
	UserID        string    `json:"userId"`
	ComponentType string    `json:"componentType"`
	Timestamp     time.Time `json:"timestamp"`
}

type ChangeNotifier interface {
	PublishConfigChange(ctx context.Context, ev ChangeEvent) error
}

type noopNotifier struct{}

func NewNoopNotifier() ChangeNotifier { return noopNotifier{} }

func (noopNotifier) PublishConfigChange(context.Context, ChangeEvent) error { return nil }
