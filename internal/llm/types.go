// Package llm defines the LLMClient capability and its concrete Anthropic
// and OpenAI backings: a single synchronous send of a message history plus
// a tool set, returning a stop reason and a list of content blocks.
package llm

import (
	"context"
	"encoding/json"

	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType is the closed set of content block kinds exchanged with the
// model.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one element of a Message's content, tagged by Type. Only the
// fields relevant to Type are populated.
type Block struct {
	Type BlockType `json:"type"`

	// Text holds the block's text for BlockText, and the serialized
	// result body for BlockToolResult.
	Text string `json:"text,omitempty"`

	// ID is the tool_use block's unique id (BlockToolUse) or the id of
	// the tool_use block a tool_result answers (BlockToolResult, where
	// it is named ToolUseID on the wire but carried here as ID for
	// symmetry with BlockToolUse).
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"` // BlockToolUse only

	// Input is the tool_use block's arguments, an arbitrary JSON object.
	Input json.RawMessage `json:"input,omitempty"`

	// IsError marks a BlockToolResult produced by a failed tool call.
	IsError bool `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ToolResultBlock builds a tool_result content block answering the
// tool_use identified by toolUseID.
func ToolResultBlock(toolUseID, content string, isError bool) Block {
	return Block{Type: BlockToolResult, ID: toolUseID, Text: content, IsError: isError}
}

// Message is one turn in the conversation sent to the model.
type Message struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// StopReason is why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Response is a single model turn.
type Response struct {
	StopReason StopReason `json:"stop_reason"`
	Content    []Block    `json:"content"`
}

// ToolUseBlocks returns every tool_use block in the response, in order.
func (r Response) ToolUseBlocks() []Block {
	var out []Block
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// Text concatenates every text block's content, the form the driver
// extracts a terminal JSON payload from.
func (r Response) Text() string {
	out := ""
	for _, b := range r.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// Client is the LLMClient capability: a single synchronous call exchanging
// a message history and tool set for one model turn.
type Client interface {
	Send(ctx context.Context, messages []Message, tools []clinical.ToolDescriptor) (Response, error)
}
