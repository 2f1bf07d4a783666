// Package usage measures reconstructed messages.
package usage

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/chatstream/pkg/chatstream"
)

// Counter counts tokens with a model's tokenizer.
type Counter struct {
	tokenizer *tiktoken.Tiktoken
}

// New creates a Counter for model (e.g. "gpt-4"). Unknown models use the
// cl100k_base encoding.
func New(model string) (*Counter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Counter{tokenizer: enc}, nil
}

// Count returns the token count for a string.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.tokenizer.Encode(text, nil, nil))
}

// Summary describes the shape and size of a message.
type Summary struct {
	Blocks     int `json:"blocks"`
	TextBlocks int `json:"text_blocks"`
	Steps      int `json:"steps"`
	// Tokens covers text blocks and step labels. Step details are not
	// counted.
	Tokens int `json:"tokens"`
}

// Summarize measures msg.
func (c *Counter) Summarize(msg *chatstream.Message) Summary {
	s := Summary{
		Blocks: len(msg.Blocks),
		Steps:  len(msg.Steps),
	}
	for _, b := range msg.Blocks {
		switch b.Type {
		case chatstream.BlockText:
			s.TextBlocks++
			s.Tokens += c.Count(b.Content)
		case chatstream.BlockStep:
			label := b.Content
			if step, ok := msg.StepFor(b); ok {
				label = step.Content
			}
			s.Tokens += c.Count(label)
		}
	}
	return s
}
