package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/qupid/internal/analysis"
	"github.com/suPer8Hu/qupid/internal/apiclient"
	"github.com/suPer8Hu/qupid/internal/conversation"
)

// printer serializes terminal output. Announcements that arrive while a
// reply line is being streamed are held until that line is finished.
type printer struct {
	mu       sync.Mutex
	w        io.Writer
	replying bool
	pending  []string
}

func (p *printer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.Write(b)
}

func (p *printer) beginReply(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replying = true
	fmt.Fprintf(p.w, "%s: ", name)
}

func (p *printer) chunk(delta string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, delta)
}

// endReply writes tail, terminates the reply line and flushes held
// announcements.
func (p *printer) endReply(tail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, tail)
	p.replying = false
	for _, text := range p.pending {
		fmt.Fprintf(p.w, "* %s\n", text)
	}
	p.pending = nil
}

func (p *printer) announce(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.replying {
		p.pending = append(p.pending, text)
		return
	}
	fmt.Fprintf(p.w, "* %s\n", text)
}

// guestCounter is the slice of the API client that tracks guest usage.
type guestCounter interface {
	IncrGuestChatCount(ctx context.Context, guestID string) (int64, error)
}

// countGuestChat records one started conversation for guestID. Failures are
// logged and never block the chat.
func countGuestChat(ctx context.Context, guests guestCounter, guestID string) {
	if guestID == "" {
		return
	}
	n, err := guests.IncrGuestChatCount(ctx, guestID)
	if err != nil {
		slog.Warn("guest chat count failed", "guest_id", guestID, "error", err)
		return
	}
	slog.Debug("guest chat counted", "guest_id", guestID, "chat_count", n)
}

func runSession(cmd *cobra.Command, o *cliOptions, opts conversation.Options) error {
	opts.UserID = o.userID
	opts.StreamTimeout = o.cfg.StreamTimeout
	opts.StepDelay = o.cfg.TutorialStepDelay
	opts.CompletionDelay = o.cfg.CompletionDelay
	opts.MaxTurns = o.cfg.MaxTurns

	client := apiclient.New(o.apiURL)
	return converse(cmd.Context(), client, opts, o.guestID, cmd.InOrStdin(), cmd.OutOrStdout())
}

// converse runs the read-submit-print loop until the input ends, the user
// types /end, or the conversation ends on its own. A non-empty guestID is
// counted once when the backend accepts the session.
func converse(ctx context.Context, backend conversation.Backend, opts conversation.Options, guestID string, in io.Reader, w io.Writer) error {
	out := &printer{w: w}
	opts.OnMessage = func(m conversation.Message) {
		if m.Sender == conversation.SenderSystem {
			out.announce(m.Text)
		}
	}
	conv := conversation.New(backend, opts)
	defer conv.Close()

	name := opts.Partner.DisplayName()
	fmt.Fprintf(out, "Connecting to %s...\n", name)
	if sess := conv.Start(ctx); sess.Local {
		fmt.Fprintln(out, "Backend unavailable, continuing offline.")
	} else if guests, ok := backend.(guestCounter); ok {
		countGuestChat(ctx, guests, guestID)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-conv.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conv.Cancel()
			return ctx.Err()
		case <-conv.Done():
			printReport(out, conv.Analysis())
			return nil
		case line, ok := <-lines:
			if !ok {
				printReport(out, conv.End(ctx))
				return nil
			}
			text := strings.TrimSpace(line)
			switch text {
			case "":
				continue
			case "/end", "/quit":
				printReport(out, conv.End(ctx))
				return nil
			case "/hint":
				printHint(out, conv.Tutorial())
				continue
			}

			out.beginReply(name)
			reply, err := conv.Submit(ctx, text, out.chunk)
			switch {
			case errors.Is(err, conversation.ErrConversationEnded):
				out.endReply("")
				continue
			case errors.Is(err, conversation.ErrCancelled):
				out.endReply("(cancelled)")
				continue
			case err != nil:
				out.endReply(fmt.Sprintf("\n%v", err))
				continue
			}
			if reply.Fallback {
				out.endReply(reply.Message.Text)
				continue
			}
			out.endReply("")
		}
	}
}

func printHint(w io.Writer, t *conversation.Tracker) {
	step, ok := t.Current()
	if !ok {
		fmt.Fprintln(w, "No hints right now. Just keep the conversation going!")
		return
	}
	fmt.Fprintf(w, "Step %d: %s. %s\n", step.Step, step.Title, step.Description)
	for _, q := range step.QuickReplies {
		fmt.Fprintf(w, "  - %s\n", q)
	}
}

func printReport(w io.Writer, r *analysis.Report) {
	fmt.Fprintln(w, "\n--- Conversation analysis ---")
	if r == nil {
		fmt.Fprintln(w, "Analysis is unavailable right now.")
		return
	}
	fmt.Fprintf(w, "Overall: %d/100\n", r.OverallScore)
	fmt.Fprintf(w, "Engagement %d  Curiosity %d  Warmth %d  (%d messages)\n", r.Engagement, r.Curiosity, r.Warmth, r.MessageCount)
	for _, s := range r.Strengths {
		fmt.Fprintf(w, "+ %s\n", s)
	}
	for _, s := range r.Improvements {
		fmt.Fprintf(w, "- %s\n", s)
	}
	if r.Summary != "" {
		fmt.Fprintln(w, r.Summary)
	}
}
