// Package events carries shell lifecycle events between the UI layer and the
// lifecycle controller over an in-process watermill bus.
package events

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

const TopicShellEvents = "llmdesk.shell.events"

// MetadataKind mirrors ShellEvent.Kind in the message metadata.
const MetadataKind = "kind"

type Kind string

const (
	TrayOpen           Kind = "tray:open"
	TrayQuit           Kind = "tray:quit"
	WindowCloseRequest Kind = "window:close-request"
)

func (k Kind) Valid() bool {
	switch k {
	case TrayOpen, TrayQuit, WindowCloseRequest:
		return true
	}
	return false
}

type ShellEvent struct {
	Kind   Kind      `json:"kind"`
	At     time.Time `json:"at"`
	Source string    `json:"source,omitempty"`
}

// NewShellEventMessage encodes ev as a watermill message. A zero At is set
// to now.
func NewShellEventMessage(ev ShellEvent) (*message.Message, error) {
	if !ev.Kind.Valid() {
		return nil, errors.Errorf("unknown shell event %q", ev.Kind)
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrap(err, "marshal shell event")
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set(MetadataKind, string(ev.Kind))
	return msg, nil
}

func PublishShellEvent(pub message.Publisher, ev ShellEvent) error {
	if pub == nil {
		return errors.New("missing publisher")
	}
	msg, err := NewShellEventMessage(ev)
	if err != nil {
		return err
	}
	return errors.Wrapf(pub.Publish(TopicShellEvents, msg), "publish %s", ev.Kind)
}

func DecodeShellEvent(payload []byte) (ShellEvent, error) {
	var ev ShellEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ShellEvent{}, errors.Wrap(err, "unmarshal shell event")
	}
	if !ev.Kind.Valid() {
		return ShellEvent{}, errors.Errorf("unknown shell event %q", ev.Kind)
	}
	return ev, nil
}
