package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackReply(t *testing.T) {
	assert.Equal(t, defaultPersonaFallback, FallbackReply("ok", false))
	assert.Equal(t, defaultCoachFallback, FallbackReply("ok", true))

	assert.Contains(t, FallbackReply("Hey!", false), "Nice to meet you")
	assert.Contains(t, FallbackReply("HOW ARE YOU", false), "doing pretty well")
	assert.Contains(t, FallbackReply("want to get coffee?", false), "up for that")
	assert.Contains(t, FallbackReply("what's your job?", false), "Good question")
	assert.Contains(t, FallbackReply("I'm nervous", true), "completely normal")

	// "this" contains "hi" but is not a greeting
	assert.Equal(t, defaultPersonaFallback, FallbackReply("this", false))

	for _, msg := range []string{"hi", "you're amazing", "why?"} {
		assert.NotEqual(t, FallbackReply(msg, false), FallbackReply(msg, true), msg)
	}
}
