package models

import (
	"errors"
	"fmt"
)

// MessageKind tags a websocket message.
type MessageKind string

const (
	MessageConnection MessageKind = "connection"
	MessageUpdate     MessageKind = "update"
	MessageError      MessageKind = "error"
)

// WebsocketMessage is one frame of the status push channel.
// connection carries nothing, update carries Task, error carries Error.
type WebsocketMessage struct {
	Message MessageKind         `json:"message"`
	Task    *TaskStatusResponse `json:"task,omitempty"`
	Error   *string             `json:"error,omitempty"`
}

var ErrMalformedMessage = errors.New("malformed websocket message")

func ConnectionMessage() WebsocketMessage {
	return WebsocketMessage{Message: MessageConnection}
}

func UpdateMessage(task TaskStatusResponse) WebsocketMessage {
	snapshot := task.Clone()
	return WebsocketMessage{Message: MessageUpdate, Task: &snapshot}
}

func ErrorMessage(msg string) WebsocketMessage {
	return WebsocketMessage{Message: MessageError, Error: &msg}
}

// Validate enforces that the payload matches the tag.
func (m WebsocketMessage) Validate() error {
	switch m.Message {
	case MessageConnection:
		if m.Task != nil || m.Error != nil {
			return fmt.Errorf("%w: connection carries a payload", ErrMalformedMessage)
		}
	case MessageUpdate:
		if m.Task == nil || m.Error != nil {
			return fmt.Errorf("%w: update must carry only a task", ErrMalformedMessage)
		}
	case MessageError:
		if m.Error == nil || m.Task != nil {
			return fmt.Errorf("%w: error must carry only an error", ErrMalformedMessage)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, m.Message)
	}
	return nil
}
