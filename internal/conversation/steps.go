package conversation

import (
	"strings"
	"unicode"
)

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

func hasWord(s string, vocab ...string) bool {
	for _, w := range words(s) {
		for _, v := range vocab {
			if w == v {
				return true
			}
		}
	}
	return false
}

func hasPhrase(s string, phrases ...string) bool {
	lower := strings.ToLower(s)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func saysHello(message string, _ []Message) bool {
	return hasWord(message, "hi", "hey", "hello", "hiya", "howdy", "yo", "heya") ||
		hasPhrase(message, "good morning", "good evening", "good afternoon")
}

func asksQuestion(message string, _ []Message) bool {
	return strings.Contains(message, "?")
}

func sharesAboutSelf(message string, _ []Message) bool {
	return len(words(message)) >= 4 && hasWord(message, "i", "i'm", "im", "my", "me", "i've", "i'd")
}

func givesCompliment(message string, _ []Message) bool {
	return hasWord(message, "love", "great", "nice", "cool", "awesome", "amazing", "beautiful", "cute", "fun", "interesting") ||
		hasPhrase(message, "i like your", "you seem")
}

// suggestsMeeting also requires that the partner has replied at least once.
func suggestsMeeting(message string, transcript []Message) bool {
	replied := false
	for _, m := range transcript {
		if m.Sender == SenderAI {
			replied = true
			break
		}
	}
	return replied &&
		(hasWord(message, "coffee", "drink", "drinks", "dinner", "lunch", "meet", "date") ||
			hasPhrase(message, "hang out", "grab a", "get together"))
}

// DefaultSteps is the scripted first-conversation tutorial.
func DefaultSteps() []Step {
	return []Step{
		{
			Step:         1,
			Title:        "Say hello",
			Description:  "Open with a friendly greeting.",
			QuickReplies: []string{"Hey! How's your day going?", "Hi there!"},
			Criteria:     saysHello,
		},
		{
			Step:         2,
			Title:        "Ask a question",
			Description:  "Show interest by asking about them.",
			QuickReplies: []string{"What do you like to do on weekends?", "What's the best trip you've taken?"},
			Criteria:     asksQuestion,
		},
		{
			Step:         3,
			Title:        "Share something about yourself",
			Description:  "Give them something to respond to.",
			QuickReplies: []string{"I just got back from hiking in the mountains.", "My weekends are mostly cooking and board games."},
			Criteria:     sharesAboutSelf,
		},
		{
			Step:         4,
			Title:        "Give a genuine compliment",
			Description:  "Notice something specific you like.",
			QuickReplies: []string{"That sounds amazing!", "I love how adventurous you are."},
			Criteria:     givesCompliment,
		},
		{
			Step:         5,
			Title:        "Suggest meeting up",
			Description:  "Move things forward with a low-key plan.",
			QuickReplies: []string{"Want to grab a coffee this week?", "We should get drinks sometime."},
			Criteria:     suggestsMeeting,
		},
	}
}
