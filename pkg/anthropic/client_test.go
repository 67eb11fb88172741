package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseText(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: `[{"event_name":`},
			{Type: "tool_use", Text: "ignored"},
			{Type: "text", Text: `"Foo"}]`},
		},
	}
	assert.Equal(t, `[{"event_name":"Foo"}]`, resp.Text())
}

func TestResponseTextEmpty(t *testing.T) {
	resp := &MessageResponse{}
	assert.Equal(t, "", resp.Text())
}

func TestToSDKMessagesRoles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	})
	assert.Len(t, msgs, 2)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
}
