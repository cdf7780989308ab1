package uat

import (
	"encoding/json"
	"fmt"
)

const (
	cmdInfo       = "Info"
	cmdVar        = "Var"
	cmdErrorReply = "ErrorReply"
	cmdSync       = "Sync"
)

// ServerInfo is the content of an Info command.
type ServerInfo struct {
	Protocol float64  `json:"protocol"`
	Name     string   `json:"name,omitempty"`
	Version  string   `json:"version,omitempty"`
	Features []string `json:"features,omitempty"`
	Slots    []string `json:"slots,omitempty"`
}

type Var struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
	// Slot is nil when the command names no slot.
	Slot *string `json:"slot,omitempty"`
}

type ErrorReply struct {
	Name        string      `json:"name"`
	Reason      string      `json:"reason"`
	Argument    interface{} `json:"argument,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Command is one element of an inbound message. Exactly one of Info, Var and Error is set
// for known commands; all are nil otherwise.
type Command struct {
	Cmd   string
	Info  *ServerInfo
	Var   *Var
	Error *ErrorReply
}

// ProtocolError reports a message the server should not have sent.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "uat: protocol violation: " + e.Reason }

func violation(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// ParseMessage validates an inbound message and decodes its commands. Any invalid command
// fails the whole message. Commands without a schema are passed through undecoded.
func ParseMessage(p []byte) (cmds []Command, err error) {
	var doc interface{}
	if err = json.Unmarshal(p, &doc); err != nil {
		return nil, violation("message is not JSON: %v", err)
	}
	if err = messageSchema.Validate(doc); err != nil {
		return nil, violation("%s", schemaReason(err))
	}

	var raw []json.RawMessage
	if err = json.Unmarshal(p, &raw); err != nil {
		return nil, violation("%v", err)
	}

	elems := doc.([]interface{})
	cmds = make([]Command, 0, len(elems))
	for i, el := range elems {
		cmd := Command{Cmd: el.(map[string]interface{})["cmd"].(string)}
		if schema, ok := commandSchemas[cmd.Cmd]; ok {
			if err = schema.Validate(el); err != nil {
				return nil, violation("command %d: %s: %s", i, cmd.Cmd, schemaReason(err))
			}
			if err = cmd.decode(raw[i]); err != nil {
				return nil, violation("command %d: %s: %v", i, cmd.Cmd, err)
			}
		}
		cmds = append(cmds, cmd)
	}
	return
}

func (cmd *Command) decode(raw json.RawMessage) error {
	switch cmd.Cmd {
	case cmdInfo:
		cmd.Info = &ServerInfo{}
		return json.Unmarshal(raw, cmd.Info)
	case cmdVar:
		cmd.Var = &Var{}
		return json.Unmarshal(raw, cmd.Var)
	case cmdErrorReply:
		cmd.Error = &ErrorReply{}
		return json.Unmarshal(raw, cmd.Error)
	}
	return nil
}

type syncCommand struct {
	Cmd  string `json:"cmd"`
	Slot string `json:"slot"`
}

// syncMessage asks the server to resend every variable of slot.
func syncMessage(slot string) []syncCommand {
	return []syncCommand{{Cmd: cmdSync, Slot: slot}}
}
