package conversation

import "strings"

type fallbackRule struct {
	match   func(lower string) bool
	persona string
	coach   string
}

func containsAnyOf(words ...string) func(string) bool {
	return func(lower string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}
}

// Rules are checked in order; the first match wins.
var fallbackRules = []fallbackRule{
	{
		match:   containsAnyOf("how are you", "how's it going", "how is your day", "how's your day"),
		persona: "I'm doing pretty well, thanks for asking! How about you?",
		coach:   "Asking how someone's doing is a solid opener. Follow it up with something specific to keep it going.",
	},
	{
		match:   containsAnyOf("coffee", "drink", "dinner", "meet", "date", "hang out"),
		persona: "That sounds fun! I'd be up for that. What did you have in mind?",
		coach:   "Suggesting a low-key plan is a great move. Keep it specific: a place and a rough time.",
	},
	{
		match:   func(lower string) bool { return hasWord(lower, "hi", "hey", "hello", "hiya", "heya") },
		persona: "Hey! Nice to meet you. What's been the highlight of your week?",
		coach:   "Hi! Let's work on your conversation skills. What would you like to practice today?",
	},
	{
		match:   containsAnyOf("love", "great", "amazing", "awesome", "beautiful", "cute"),
		persona: "Aw, that's sweet of you to say! Tell me more about you.",
		coach:   "Nice, compliments work best when they're specific. What made you notice that?",
	},
	{
		match:   containsAnyOf("?"),
		persona: "Good question! I'd have to think about that one. What about you?",
		coach:   "Good question. Start from what feels natural to you, then we can refine it together.",
	},
	{
		match:   containsAnyOf("nervous", "anxious", "scared", "worried"),
		persona: "Honestly, I get a little nervous too. It helps to just be yourself.",
		coach:   "Feeling nervous is completely normal. Let's take it one message at a time.",
	},
}

const (
	defaultPersonaFallback = "That's interesting! Tell me more."
	defaultCoachFallback   = "Thanks for sharing. What would you like to work on next?"
)

// FallbackReply is the canned reply shown when the real one could not be fetched.
func FallbackReply(userText string, coaching bool) string {
	lower := strings.ToLower(userText)
	for _, r := range fallbackRules {
		if r.match(lower) {
			if coaching {
				return r.coach
			}
			return r.persona
		}
	}
	if coaching {
		return defaultCoachFallback
	}
	return defaultPersonaFallback
}
