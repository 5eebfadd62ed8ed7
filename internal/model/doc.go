// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat messages.
//
// A conversation arrives from the browser as an ordered list of Message
// values. Roles form a closed set; ToOllamaMessages converts the list to the
// runtime's wire form, preserving order and rejecting unknown roles.
//
// # Key Types
//
//   - Message: a single turn with role and content
//   - Role: message role enumeration (user, assistant, system)
//   - RoleError: returned for a role outside the closed set
//
// # Usage
//
//	msgs, err := model.ToOllamaMessages([]model.Message{
//	    {Role: model.RoleUser, Content: "Hello!"},
//	})
package model
