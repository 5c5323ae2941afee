// Command qupid is a terminal client for practicing conversations against
// the Qupid backend.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/qupid/internal/config"
)

type cliOptions struct {
	cfg     config.Config
	apiURL  string
	userID  string
	guestID string
	verbose bool
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config) *cobra.Command {
	o := &cliOptions{cfg: cfg}

	root := &cobra.Command{
		Use:   "qupid",
		Short: "Practice dating conversations with AI personas and coaches",
		Long: `Qupid opens a practice conversation in your terminal. Replies stream in as
they are generated; type /hint for suggestions and /end to finish and see
your analysis.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if o.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVar(&o.apiURL, "api", cfg.APIBaseURL, "Qupid backend base URL")
	root.PersistentFlags().StringVar(&o.userID, "user", cfg.UserID, "User id sent when opening coaching sessions")
	root.PersistentFlags().StringVar(&o.guestID, "guest", cfg.GuestID, "Guest id whose practice-chat count is bumped per conversation")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(newChatCmd(o), newTutorialCmd(o), newCoachCmd(o))
	return root
}
