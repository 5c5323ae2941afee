package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/qupid/internal/ai"
	"github.com/suPer8Hu/qupid/internal/analysis"
	"github.com/suPer8Hu/qupid/internal/common"
	"gorm.io/gorm"
)

var (
	ErrInvalidArgument = errors.New("chat: invalid argument")
	ErrSessionEnded    = errors.New("chat: session has ended")
	ErrNotStreamable   = errors.New("chat: provider does not support streaming")
)

const defaultProvider = "ollama"

type Service struct {
	repo              *Repo
	registry          *ai.Registry
	provider          string
	contextWindowSize int
	now               func() time.Time
}

func NewService(repo *Repo, registry *ai.Registry, provider string, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	if strings.TrimSpace(provider) == "" {
		provider = defaultProvider
	}
	return &Service{repo: repo, registry: registry, provider: provider, contextWindowSize: contextWindowSize, now: time.Now}
}

func (s *Service) CreatePersonaSession(ctx context.Context, personaID, instruction string) (*Session, error) {
	personaID = strings.TrimSpace(personaID)
	if personaID == "" {
		return nil, fmt.Errorf("%w: personaId is required", ErrInvalidArgument)
	}
	return s.createSession(ctx, &Session{
		Kind:              KindPersona,
		PartnerID:         personaID,
		SystemInstruction: instruction,
	})
}

func (s *Service) CreateCoachSession(ctx context.Context, coachID, userID string) (*Session, error) {
	coachID = strings.TrimSpace(coachID)
	if coachID == "" {
		return nil, fmt.Errorf("%w: coachId is required", ErrInvalidArgument)
	}
	return s.createSession(ctx, &Session{
		Kind:      KindCoach,
		PartnerID: coachID,
		UserID:    strings.TrimSpace(userID),
	})
}

func (s *Service) createSession(ctx context.Context, session *Session) (*Session, error) {
	sid, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	session.SessionID = sid
	session.Provider = s.provider

	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return s.repo.GetSessionBySessionID(ctx, sessionID)
}

// openSession loads a session that still accepts messages.
func (s *Service) openSession(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.EndedAt != nil {
		return nil, ErrSessionEnded
	}
	return sess, nil
}

func (s *Service) providerForSession(ctx context.Context, sess *Session) (ai.Provider, error) {
	p := sess.Provider
	if p == "" {
		p = s.provider
	}
	return s.registry.Get(ctx, p, sess.Model)
}

func systemPrompt(sess *Session) string {
	if sess.IsCoaching() {
		return fmt.Sprintf("You are %s, a supportive dating coach. Give short, practical advice "+
			"and ask one follow-up question at a time.", sess.PartnerID)
	}
	if strings.TrimSpace(sess.SystemInstruction) != "" {
		return sess.SystemInstruction
	}
	return fmt.Sprintf("You are %s, chatting with someone you matched with on a dating app. "+
		"Stay in character, keep replies casual and brief.", sess.PartnerID)
}

// buildContext returns the system prompt followed by the recent history in ASC order.
func (s *Service) buildContext(ctx context.Context, sess *Session) ([]ai.Message, error) {
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, sess.SessionID, s.contextWindowSize)
	if err != nil {
		return nil, err
	}

	out := make([]ai.Message, 0, len(recentDesc)+1)
	out = append(out, ai.Message{Role: ai.RoleSystem, Content: systemPrompt(sess)})
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		role := ai.RoleUser
		switch m.Sender {
		case SenderAI:
			role = ai.RoleAssistant
		case SenderSystem:
			continue
		}
		out = append(out, ai.Message{Role: role, Content: m.Content})
	}
	return out, nil
}

func (s *Service) SendMessage(ctx context.Context, sessionID string, content string) (reply string, assistantMsgID uint64, err error) {
	if strings.TrimSpace(content) == "" {
		return "", 0, fmt.Errorf("%w: message is empty", ErrInvalidArgument)
	}
	if _, err := s.openSession(ctx, sessionID); err != nil {
		return "", 0, err
	}
	if err := s.repo.InsertMessage(ctx, &Message{SessionID: sessionID, Sender: SenderUser, Content: content}); err != nil {
		return "", 0, err
	}
	return s.GenerateAssistantReplyAndInsert(ctx, sessionID)
}

func (s *Service) ListMessages(ctx context.Context, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if _, err := s.repo.GetSessionBySessionID(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListMessages(ctx, sessionID, limit, beforeID)
}

// StreamResult is delivered once, after the chunk channel is closed.
type StreamResult struct {
	MessageID uint64
	Err       error
}

// StreamReply stores the user message immediately, streams assistant chunks,
// and stores the assistant message after streaming completes.
func (s *Service) StreamReply(ctx context.Context, sessionID string, content string) (<-chan string, <-chan StreamResult) {
	outChunks := make(chan string, 16)
	outResult := make(chan StreamResult, 1)

	go func() {
		var res StreamResult
		defer func() {
			close(outChunks)
			outResult <- res
			close(outResult)
		}()

		if strings.TrimSpace(content) == "" {
			res.Err = fmt.Errorf("%w: message is empty", ErrInvalidArgument)
			return
		}

		sess, err := s.openSession(ctx, sessionID)
		if err != nil {
			res.Err = err
			return
		}

		provider, err := s.providerForSession(ctx, sess)
		if err != nil {
			res.Err = err
			return
		}
		sp, ok := provider.(ai.StreamProvider)
		if !ok {
			res.Err = ErrNotStreamable
			return
		}

		if err := s.repo.InsertMessage(ctx, &Message{SessionID: sessionID, Sender: SenderUser, Content: content}); err != nil {
			res.Err = err
			return
		}

		providerMsgs, err := s.buildContext(ctx, sess)
		if err != nil {
			res.Err = err
			return
		}

		pChunks, pErrs := sp.StreamChat(ctx, providerMsgs)

		var b strings.Builder
		for c := range pChunks {
			b.WriteString(c)
			select {
			case outChunks <- c:
			case <-ctx.Done():
			}
		}
		if err := <-pErrs; err != nil {
			res.Err = err
			return
		}
		if err := ctx.Err(); err != nil {
			res.Err = err
			return
		}

		assistantMsg := &Message{SessionID: sessionID, Sender: SenderAI, Content: b.String()}
		if err := s.repo.InsertMessage(ctx, assistantMsg); err != nil {
			res.Err = err
			return
		}
		res.MessageID = assistantMsg.ID
	}()

	return outChunks, outResult
}

func (s *Service) InsertUserMessage(ctx context.Context, sessionID string, content string) error {
	if _, err := s.openSession(ctx, sessionID); err != nil {
		return err
	}
	return s.repo.InsertMessage(ctx, &Message{
		SessionID: sessionID,
		Sender:    SenderUser,
		Content:   content,
	})
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}

func (s *Service) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	return s.repo.CreateJobOrGetExisting(ctx, job)
}

// GenerateAssistantReplyAndInsert answers the latest history without streaming.
func (s *Service) GenerateAssistantReplyAndInsert(ctx context.Context, sessionID string) (string, uint64, error) {
	sess, err := s.openSession(ctx, sessionID)
	if err != nil {
		return "", 0, err
	}

	provider, err := s.providerForSession(ctx, sess)
	if err != nil {
		return "", 0, err
	}

	providerMsgs, err := s.buildContext(ctx, sess)
	if err != nil {
		return "", 0, err
	}

	reply, err := provider.Chat(ctx, providerMsgs)
	if err != nil {
		return "", 0, err
	}

	assistantMsg := &Message{
		SessionID: sessionID,
		Sender:    SenderAI,
		Content:   reply,
	}
	if err := s.repo.InsertMessage(ctx, assistantMsg); err != nil {
		return "", 0, err
	}
	return reply, assistantMsg.ID, nil
}

// Analyze scores a client-supplied transcript without touching storage.
func (s *Service) Analyze(turns []analysis.Turn) *analysis.Report {
	return analysis.Analyze(turns)
}

// EndSession scores the stored transcript and marks the session ended.
// Ending an already-ended session returns the stored report.
func (s *Service) EndSession(ctx context.Context, sessionID string) (*analysis.Report, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.EndedAt != nil {
		stored, err := s.repo.GetAnalysis(ctx, sessionID)
		if err == nil {
			return decodeReport(stored)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	msgs, err := s.repo.ListTranscript(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns := make([]analysis.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, analysis.Turn{Sender: string(m.Sender), Text: m.Content})
	}
	report := analysis.Analyze(turns)

	raw, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveAnalysis(ctx, &Analysis{
		SessionID:    sessionID,
		OverallScore: report.OverallScore,
		Report:       string(raw),
	}); err != nil {
		return nil, err
	}
	if _, err := s.repo.MarkSessionEnded(ctx, sessionID, s.now()); err != nil {
		return nil, err
	}
	return report, nil
}

func decodeReport(a *Analysis) (*analysis.Report, error) {
	var r analysis.Report
	if err := json.Unmarshal([]byte(a.Report), &r); err != nil {
		return nil, err
	}
	return &r, nil
}
