package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const localSessionPrefix = "mock-session-"

type SessionAPI interface {
	CreatePersonaSession(ctx context.Context, personaID, instruction string) (string, error)
	CreateCoachSession(ctx context.Context, coachID, userID string) (string, error)
}

// Session is the server-side handle every send refers to. Local sessions
// were synthesized after a failed bootstrap.
type Session struct {
	ID         string
	IsCoaching bool
	Local      bool
}

// Initiator creates at most one remote session. Concurrent callers share the
// in-flight request and later callers get the stored session.
type Initiator struct {
	api    SessionAPI
	userID string
	log    *slog.Logger
	now    func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	session *Session
}

func NewInitiator(api SessionAPI, userID string, log *slog.Logger) *Initiator {
	if log == nil {
		log = slog.Default()
	}
	return &Initiator{api: api, userID: userID, log: log, now: time.Now}
}

func (i *Initiator) Session() (Session, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.session == nil {
		return Session{}, false
	}
	return *i.session, true
}

// Create never fails: if the request fails it returns a local session so the
// conversation can continue. An empty instruction falls back to the persona's own.
func (i *Initiator) Create(ctx context.Context, partner Partner, instruction string) Session {
	if s, ok := i.Session(); ok {
		return s
	}
	v, _, _ := i.group.Do("session", func() (any, error) {
		if s, ok := i.Session(); ok {
			return s, nil
		}
		s := i.create(ctx, partner, instruction)
		i.mu.Lock()
		i.session = &s
		i.mu.Unlock()
		return s, nil
	})
	return v.(Session)
}

func (i *Initiator) create(ctx context.Context, partner Partner, instruction string) Session {
	var (
		id  string
		err error
	)
	switch p := partner.(type) {
	case Persona:
		if instruction == "" {
			instruction = p.SystemInstruction
		}
		id, err = i.api.CreatePersonaSession(ctx, p.ID, instruction)
	case Coach:
		id, err = i.api.CreateCoachSession(ctx, p.ID, i.userID)
	default:
		err = fmt.Errorf("unsupported partner %T", partner)
	}

	coaching := isCoach(partner)
	if err != nil {
		local := fmt.Sprintf("%s%d", localSessionPrefix, i.now().UnixMilli())
		i.log.Warn("session bootstrap failed, continuing locally",
			"partner_id", partnerID(partner),
			"coaching", coaching,
			"session_id", local,
			"error", err,
		)
		return Session{ID: local, IsCoaching: coaching, Local: true}
	}
	i.log.Info("session created", "partner_id", partner.PartnerID(), "coaching", coaching, "session_id", id)
	return Session{ID: id, IsCoaching: coaching}
}

func partnerID(p Partner) string {
	if p == nil {
		return ""
	}
	return p.PartnerID()
}
