package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/guseggert/wsexec/runner"
	"nhooyr.io/websocket"
)

const (
	// Sentinel is sent after the last output frame of a command.
	Sentinel = "---END---"
	// StderrPrefix prefixes frames carrying stderr lines.
	StderrPrefix = "ERR: "
)

var validate = validator.New()

// CommandRequest is a decoded request to run Command through the shell.
type CommandRequest struct {
	Command string
}

// commandRequestMessage is the wire form of a CommandRequest.
// Command is a pointer so that a missing key can be told apart from an empty command.
type commandRequestMessage struct {
	Command *string `json:"command" validate:"required"`
}

// DecodeError is returned for inbound messages that are not a valid CommandRequest.
// Status is the close status the connection is closed with.
type DecodeError struct {
	Status websocket.StatusCode
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding command request: %s", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeCommandRequest(typ websocket.MessageType, b []byte) (CommandRequest, error) {
	if typ != websocket.MessageText {
		return CommandRequest{}, &DecodeError{
			Status: websocket.StatusUnsupportedData,
			Err:    fmt.Errorf("unexpected %s message", typ),
		}
	}
	var msg commandRequestMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return CommandRequest{}, &DecodeError{Status: websocket.StatusInvalidFramePayloadData, Err: err}
	}
	if err := validate.Struct(msg); err != nil {
		return CommandRequest{}, &DecodeError{Status: websocket.StatusInvalidFramePayloadData, Err: err}
	}
	return CommandRequest{Command: *msg.Command}, nil
}

func encodeCommandRequest(req CommandRequest) ([]byte, error) {
	return json.Marshal(commandRequestMessage{Command: &req.Command})
}

// Frame is one outbound text message: an output line or the Sentinel.
type Frame string

func frameFor(line runner.OutputLine) Frame {
	if line.Origin == runner.Stderr {
		return Frame(StderrPrefix + line.Text)
	}
	return Frame(line.Text)
}

func (f Frame) IsSentinel() bool { return f == Sentinel }

func (f Frame) IsStderr() bool { return strings.HasPrefix(string(f), StderrPrefix) }

// Text returns the line carried by the frame, without the stderr prefix.
func (f Frame) Text() string {
	return strings.TrimPrefix(string(f), StderrPrefix)
}
