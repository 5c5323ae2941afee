package conversation

import "github.com/suPer8Hu/qupid/internal/analysis"

type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

type Message struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

func toTurns(msgs []Message) []analysis.Turn {
	out := make([]analysis.Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, analysis.Turn{Sender: string(m.Sender), Text: m.Text})
	}
	return out
}
