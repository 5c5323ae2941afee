package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/suPer8Hu/qupid/internal/chat"
)

const slowJob = 2 * time.Second

// handleJob generates and stores the reply for one queued job. Redelivered
// jobs that already succeeded are acknowledged without regenerating.
func handleJob(ctx context.Context, svc *chat.Service, repo *chat.Repo, jobID string, log *slog.Logger) error {
	jobStart := time.Now()

	t0 := time.Now()
	_ = repo.UpdateJobStatusRunning(ctx, jobID)
	updateCost := time.Since(t0)

	t1 := time.Now()
	j, err := repo.GetJobByID(ctx, jobID)
	getJobCost := time.Since(t1)
	if err != nil {
		log.Warn("job_timing", "job_id", jobID, "update", updateCost.String(), "get_job", getJobCost.String(), "error", err)
		return err
	}
	if j.Status == chat.JobSucceeded {
		return nil
	}

	t2 := time.Now()
	_, assistantMsgID, err := svc.GenerateAssistantReplyAndInsert(ctx, j.SessionID)
	genCost := time.Since(t2)
	if err != nil {
		t3 := time.Now()
		_ = repo.MarkJobFailed(ctx, jobID, err.Error())
		log.Warn("job_timing_failed",
			"job_id", jobID,
			"update", updateCost.String(),
			"get_job", getJobCost.String(),
			"gen", genCost.String(),
			"mark_fail", time.Since(t3).String(),
			"total", time.Since(jobStart).String(),
			"error", err,
		)
		return err
	}

	t4 := time.Now()
	if err := repo.MarkJobSucceeded(ctx, jobID, assistantMsgID); err != nil {
		log.Warn("job_timing_failed", "job_id", jobID, "gen", genCost.String(), "mark_succ", time.Since(t4).String(), "error", err)
		return err
	}

	if total := time.Since(jobStart); total > slowJob {
		log.Info("job_timing",
			"job_id", jobID,
			"update", updateCost.String(),
			"get_job", getJobCost.String(),
			"gen", genCost.String(),
			"mark_succ", time.Since(t4).String(),
			"total", total.String(),
		)
	}
	return nil
}
