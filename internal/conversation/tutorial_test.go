package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keywordSteps(keys ...string) []Step {
	steps := make([]Step, len(keys))
	for i, k := range keys {
		k := k
		steps[i] = Step{
			Step:     i + 1,
			Title:    "say " + k,
			Criteria: func(m string, _ []Message) bool { return m == k },
		}
	}
	return steps
}

func TestTracker_AdvancesOneStepAtATime(t *testing.T) {
	tr := NewTracker(keywordSteps("a", "b", "c"), true)

	out := tr.Evaluate("a", nil)
	assert.True(t, out.Advanced)
	assert.Equal(t, 1, out.Cursor)
	require.NotNil(t, out.Announcement)
	assert.Equal(t, SenderSystem, out.Announcement.Sender)
	assert.Equal(t, "Step 1 complete! Next up: say b", out.Announcement.Text)

	// a message that would satisfy a later step does not skip ahead
	out = tr.Evaluate("c", nil)
	assert.False(t, out.Advanced)
	assert.Nil(t, out.Announcement)
	assert.Equal(t, 1, tr.Cursor())

	for i := 0; i < 10; i++ {
		tr.Evaluate("nope", nil)
	}
	assert.Equal(t, 1, tr.Cursor())

	cur, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, "say b", cur.Title)
}

func TestTracker_CompletesExactlyOnce(t *testing.T) {
	tr := NewTracker(keywordSteps("a", "b"), true)
	tr.Evaluate("a", nil)

	out := tr.Evaluate("b", nil)
	assert.True(t, out.Completed)
	assert.Equal(t, 2, out.Cursor)
	require.NotNil(t, out.Announcement)
	assert.Contains(t, out.Announcement.Text, "Tutorial complete!")

	for _, m := range []string{"a", "b", "anything"} {
		again := tr.Evaluate(m, nil)
		assert.False(t, again.Completed)
		assert.False(t, again.Advanced)
		assert.Nil(t, again.Announcement)
		assert.Equal(t, 2, again.Cursor)
	}
	assert.True(t, tr.Completed())
	_, ok := tr.Current()
	assert.False(t, ok)
}

func TestTracker_Inactive(t *testing.T) {
	tr := NewTracker(keywordSteps("a"), false)
	out := tr.Evaluate("a", nil)
	assert.False(t, out.Advanced)
	assert.Zero(t, tr.Cursor())
	assert.False(t, tr.Active())

	assert.False(t, NewTracker(nil, true).Active())
}

func TestTracker_CriteriaSeesTranscript(t *testing.T) {
	var seen []Message
	steps := []Step{{Step: 1, Title: "x", Criteria: func(_ string, tr []Message) bool {
		seen = tr
		return false
	}}}
	transcript := []Message{{Sender: SenderUser, Text: "hi"}}
	NewTracker(steps, true).Evaluate("hi", transcript)
	assert.Equal(t, transcript, seen)
}

func TestDefaultSteps(t *testing.T) {
	steps := DefaultSteps()
	require.Len(t, steps, 5)
	replied := []Message{{Sender: SenderUser, Text: "hi"}, {Sender: SenderAI, Text: "hey!"}}

	cases := []struct {
		step int
		msg  string
		tr   []Message
		want bool
	}{
		{0, "Hey there", nil, true},
		{0, "good morning!", nil, true},
		{0, "they said so", nil, false},
		{1, "what's your favourite food?", nil, true},
		{1, "tell me about food", nil, false},
		{2, "I love cooking on Sundays", nil, true},
		{2, "I agree", nil, false},
		{3, "that sounds amazing", nil, true},
		{3, "ok", nil, false},
		{4, "want to grab a coffee sometime", replied, true},
		{4, "want to grab a coffee sometime", nil, false},
		{4, "see you", replied, false},
	}
	for _, tc := range cases {
		got := steps[tc.step].Criteria(tc.msg, tc.tr)
		assert.Equal(t, tc.want, got, "step %d %q", tc.step, tc.msg)
	}
	for i, s := range steps {
		assert.Equal(t, i+1, s.Step)
		assert.NotEmpty(t, s.QuickReplies)
	}
}
