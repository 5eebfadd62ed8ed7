// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"

	"github.com/jeranaias/astar-chat/internal/ollama"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Roles lists every accepted role.
var Roles = []Role{RoleUser, RoleAssistant, RoleSystem}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the accepted roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single turn in a conversation as sent by the browser.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RoleError reports a message whose role is outside the accepted set.
type RoleError struct {
	Index int
	Role  Role
}

func (e *RoleError) Error() string {
	names := make([]string, len(Roles))
	for i, r := range Roles {
		names[i] = r.String()
	}
	return fmt.Sprintf("invalid role %q at message %d: must be one of %s",
		string(e.Role), e.Index, strings.Join(names, ", "))
}

// Validate checks every role in msgs and returns the first RoleError.
func Validate(msgs []Message) error {
	for i, m := range msgs {
		if !m.Role.Valid() {
			return &RoleError{Index: i, Role: m.Role}
		}
	}
	return nil
}

// ToOllamaMessages converts msgs to the runtime's wire form. Order is
// preserved; an unknown role yields a *RoleError and no messages.
func ToOllamaMessages(msgs []Message) ([]ollama.Message, error) {
	if err := Validate(msgs); err != nil {
		return nil, err
	}

	out := make([]ollama.Message, len(msgs))
	for i, m := range msgs {
		switch m.Role {
		case RoleUser:
			out[i] = ollama.NewUserMessage(m.Content)
		case RoleAssistant:
			out[i] = ollama.NewAssistantMessage(m.Content)
		case RoleSystem:
			out[i] = ollama.NewSystemMessage(m.Content)
		}
	}
	return out, nil
}
