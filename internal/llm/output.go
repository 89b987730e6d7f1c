package llm

import (
	"bufio"
	"encoding/json"
	"io"
)

// StreamEvent represents a single event from the agent's stream-json output
type StreamEvent struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype,omitempty"`
	Message *MessageContent `json:"message,omitempty"`
	Result  string          `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
	CostUSD float64         `json:"total_cost_usd,omitempty"`
	Usage   *UsageBlock     `json:"usage,omitempty"`
}

// MessageContent represents the message field in stream events
type MessageContent struct {
	Content []ContentBlock `json:"content,omitempty"`
	Usage   *UsageBlock    `json:"usage,omitempty"`
}

// ContentBlock represents a content block (text or tool_use)
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// UsageBlock represents token usage data from the agent's output
type UsageBlock struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens"`
}

// StreamHandler receives parsed stream events in emission order
type StreamHandler interface {
	OnToolUse(name string, input json.RawMessage)
	OnText(text string)
	OnUsage(usage UsageBlock)
	OnResult(result string, isError bool, costUSD float64)
}

// ParseStream reads the agent's stream-json output line by line and calls
// the handler. Malformed lines are skipped; the agent interleaves debug
// output with events.
func ParseStream(reader io.Reader, handler StreamHandler) error {
	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event StreamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		switch event.Type {
		case "assistant":
			if event.Message == nil {
				continue
			}
			if event.Message.Usage != nil {
				handler.OnUsage(*event.Message.Usage)
			}
			for _, content := range event.Message.Content {
				switch content.Type {
				case "tool_use":
					handler.OnToolUse(content.Name, content.Input)
				case "text":
					handler.OnText(content.Text)
				}
			}
		case "result":
			if event.Usage != nil {
				handler.OnUsage(*event.Usage)
			}
			handler.OnResult(event.Result, event.IsError, event.CostUSD)
		}
	}

	return scanner.Err()
}
