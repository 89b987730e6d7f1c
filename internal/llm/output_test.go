package llm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	tools   []string
	inputs  []string
	texts   []string
	usage   UsageBlock
	result  string
	isError bool
	cost    float64
}

func (r *recordingHandler) OnToolUse(name string, input json.RawMessage) {
	r.tools = append(r.tools, name)
	r.inputs = append(r.inputs, string(input))
}
func (r *recordingHandler) OnText(text string) { r.texts = append(r.texts, text) }
func (r *recordingHandler) OnUsage(usage UsageBlock) {
	r.usage.InputTokens += usage.InputTokens
	r.usage.OutputTokens += usage.OutputTokens
}
func (r *recordingHandler) OnResult(result string, isError bool, cost float64) {
	r.result = result
	r.isError = isError
	r.cost = cost
}

func TestParseStreamToolOrdering(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"get_next_task","input":{}}],"usage":{"input_tokens":100,"output_tokens":20}}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"},{"type":"tool_use","name":"mark_task_complete","input":{"task_id":"a"}}],"usage":{"input_tokens":200,"output_tokens":40}}}`,
		`{"type":"result","result":"done","total_cost_usd":0.0123}`,
	}, "\n")

	h := &recordingHandler{}
	require.NoError(t, ParseStream(strings.NewReader(stream), h))

	assert.Equal(t, []string{"get_next_task", "mark_task_complete"}, h.tools, "tool calls in emission order")
	assert.Contains(t, h.inputs[1], `"task_id":"a"`)
	assert.Equal(t, []string{"working on it"}, h.texts)
	assert.Equal(t, 300, h.usage.InputTokens)
	assert.Equal(t, 60, h.usage.OutputTokens)
	assert.Equal(t, "done", h.result)
	assert.InDelta(t, 0.0123, h.cost, 1e-9)
}

func TestParseStreamSkipsMalformedLines(t *testing.T) {
	stream := strings.Join([]string{
		`not json at all`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"ok"}]}}`,
		`{broken`,
		`{"type":"result","result":"fine"}`,
	}, "\n")

	h := &recordingHandler{}
	require.NoError(t, ParseStream(strings.NewReader(stream), h))
	assert.Equal(t, []string{"ok"}, h.texts)
	assert.Equal(t, "fine", h.result)
}

func TestParseStreamErrorResult(t *testing.T) {
	stream := `{"type":"result","result":"rate limited","is_error":true}`
	h := &recordingHandler{}
	require.NoError(t, ParseStream(strings.NewReader(stream), h))
	assert.True(t, h.isError)
	assert.Equal(t, "rate limited", h.result)
}

func TestIterationHandlerDispatchesInOrder(t *testing.T) {
	var dispatched []string
	dispatch := func(name string, input json.RawMessage) (any, error) {
		dispatched = append(dispatched, name)
		return nil, nil
	}

	h := newIterationHandler(dispatch)
	h.OnToolUse("get_next_task", nil)
	h.OnToolUse("mark_task_in_progress", json.RawMessage(`{"task_id":"a"}`))
	h.OnUsage(UsageBlock{InputTokens: 50, OutputTokens: 10})
	h.OnResult("ok", false, 0.5)

	result := h.result()
	assert.Equal(t, []string{"get_next_task", "mark_task_in_progress"}, dispatched)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ToolCalls)
	assert.Equal(t, 50, result.InputTokens)
	assert.Equal(t, 10, result.OutputTokens)
	assert.InDelta(t, 0.5, result.CostUSD, 1e-9)
}

func TestIterationHandlerNoResultMeansFailure(t *testing.T) {
	h := newIterationHandler(nil)
	h.OnUsage(UsageBlock{InputTokens: 10})
	result := h.result()
	assert.False(t, result.Success, "exit without a result event is not success")
}
