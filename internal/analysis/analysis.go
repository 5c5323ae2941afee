// Package analysis scores a finished practice conversation.
//
// The scoring is scripted: it looks only at the user's own turns and
// produces the same report for the same transcript.
package analysis

import (
	"math"
	"strings"
	"unicode"
)

// Turn is one transcript entry as sent over the wire.
type Turn struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type Report struct {
	OverallScore int      `json:"overallScore"`
	Engagement   int      `json:"engagement"`
	Curiosity    int      `json:"curiosity"`
	Warmth       int      `json:"warmth"`
	MessageCount int      `json:"messageCount"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Summary      string   `json:"summary"`
}

const (
	strongScore = 70
	weakScore   = 40

	// wordsForFullEngagement is the average message length that scores 100.
	wordsForFullEngagement = 10.0
)

var warmWords = []string{
	"love", "great", "awesome", "amazing", "nice", "cool", "fun", "glad",
	"beautiful", "wonderful", "thanks", "thank you", "sweet", "happy", "haha", "lol",
}

type dimension struct {
	score       int
	strength    string
	improvement string
}

func Analyze(turns []Turn) *Report {
	var user []string
	for _, t := range turns {
		if t.Sender == "user" && strings.TrimSpace(t.Text) != "" {
			user = append(user, t.Text)
		}
	}

	r := &Report{
		MessageCount: len(user),
		Strengths:    []string{},
		Improvements: []string{},
	}
	if len(user) == 0 {
		r.Summary = "You haven't said anything yet. Send a message to get feedback."
		r.Improvements = append(r.Improvements, "Start the conversation with a friendly greeting.")
		return r
	}

	var words, questions, warm int
	for _, text := range user {
		words += len(strings.FieldsFunc(text, func(r rune) bool { return unicode.IsSpace(r) }))
		if strings.Contains(text, "?") {
			questions++
		}
		if containsAny(strings.ToLower(text), warmWords) {
			warm++
		}
	}
	n := float64(len(user))

	r.Engagement = clamp(float64(words) / n / wordsForFullEngagement * 100)
	r.Curiosity = clamp(float64(questions) / n * 200)
	r.Warmth = clamp(float64(warm) / n * 200)
	r.OverallScore = int(math.Round(float64(r.Engagement+r.Curiosity+r.Warmth) / 3))

	dims := []dimension{
		{r.Engagement, "You gave thoughtful, detailed replies.", "Try sharing a bit more in each message."},
		{r.Curiosity, "You kept things flowing with good questions.", "Ask more questions to show interest in them."},
		{r.Warmth, "Your tone was warm and positive.", "Add some warmth: a compliment or a bit of enthusiasm goes far."},
	}
	for _, d := range dims {
		switch {
		case d.score >= strongScore:
			r.Strengths = append(r.Strengths, d.strength)
		case d.score < weakScore:
			r.Improvements = append(r.Improvements, d.improvement)
		}
	}

	switch {
	case r.OverallScore >= 80:
		r.Summary = "Great conversation! You were engaged, curious and warm."
	case r.OverallScore >= 50:
		r.Summary = "Solid conversation. A few tweaks and you'll really shine."
	default:
		r.Summary = "Good start. Keep practicing and focus on the suggestions below."
	}
	return r
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func clamp(v float64) int {
	return int(math.Round(math.Max(0, math.Min(100, v))))
}
