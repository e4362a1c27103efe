package main

import (
	"fmt"
	"os"

	"github.com/TheQwirl/qwirl-session/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// options are the persistent flags shared by every command.
type options struct {
	apiURL   string
	dbPath   string
	logLevel string
}

func main() {
	_ = godotenv.Load()
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "qwirlctl",
		Short: "Talk to the Qwirl API with a stored session",
		Long: `qwirlctl keeps a Qwirl session on disk and sends authorized requests
with it. Expired access tokens are refreshed automatically and the
rotated tokens are saved for the next run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup("DEV", opts.logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "api", os.Getenv("NEXT_PUBLIC_API_URL"), "Qwirl API base URL (NEXT_PUBLIC_API_URL)")
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "credential database (default ~/.qwirl/credentials.db)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		importCmd(opts),
		meCmd(opts),
		getCmd(opts),
		refreshCmd(opts),
		logoutCmd(opts),
		statusCmd(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}
