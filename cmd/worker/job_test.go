package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/qupid/internal/ai"
	"github.com/suPer8Hu/qupid/internal/chat"
	"gorm.io/gorm"
)

type fixedProvider struct {
	reply string
	err   error
	calls int
}

func (p *fixedProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	p.calls++
	return p.reply, p.err
}

func setup(t *testing.T, p *fixedProvider) (*chat.Service, *chat.Repo) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := gdb.AutoMigrate(chat.Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := ai.NewRegistry()
	reg.Register("fixed", func(ctx context.Context, model string) (ai.Provider, error) { return p, nil })
	repo := chat.NewRepo(gdb)
	return chat.NewService(repo, reg, "fixed", 20), repo
}

func queueJob(t *testing.T, svc *chat.Service, id string) *chat.Job {
	t.Helper()
	ctx := context.Background()
	sess, err := svc.CreatePersonaSession(ctx, "ava", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := svc.InsertUserMessage(ctx, sess.SessionID, "hey"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	job, _, err := svc.CreateJobOrGetExisting(ctx, &chat.Job{ID: id, SessionID: sess.SessionID, Prompt: "hey", Status: chat.JobQueued})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestHandleJob_Succeeds(t *testing.T) {
	p := &fixedProvider{reply: "hi!"}
	svc, repo := setup(t, p)
	job := queueJob(t, svc, "01JOBSUCCESS0000000000000A")
	ctx := context.Background()

	if err := handleJob(ctx, svc, repo, job.ID, slog.Default()); err != nil {
		t.Fatalf("handleJob: %v", err)
	}
	got, err := repo.GetJobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != chat.JobSucceeded || got.ResultMessageID == nil {
		t.Fatalf("job = %+v, want succeeded with result", got)
	}

	// redelivery is a no-op
	if err := handleJob(ctx, svc, repo, job.ID, slog.Default()); err != nil {
		t.Fatalf("redelivered handleJob: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", p.calls)
	}
}

func TestHandleJob_ProviderFailure(t *testing.T) {
	svc, repo := setup(t, &fixedProvider{err: errors.New("model offline")})
	job := queueJob(t, svc, "01JOBFAILURE0000000000000A")

	if err := handleJob(context.Background(), svc, repo, job.ID, slog.Default()); err == nil {
		t.Fatalf("expected error")
	}
	got, _ := repo.GetJobByID(context.Background(), job.ID)
	if got.Status != chat.JobFailed || got.Error == nil || !strings.Contains(*got.Error, "model offline") {
		t.Fatalf("job = %+v, want failed with error", got)
	}
}

func TestHandleJob_UnknownJob(t *testing.T) {
	svc, repo := setup(t, &fixedProvider{reply: "x"})
	if err := handleJob(context.Background(), svc, repo, "missing", slog.Default()); err == nil {
		t.Fatalf("expected error for unknown job")
	}
}
