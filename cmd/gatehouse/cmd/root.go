package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "gatehouse",
	Short: "Gatehouse is the request-security gateway for the CMS admin",
	Long: `Gatehouse sits in front of the CMS and guards its admin surface: it
verifies the administrator credential, issues signed sessions, enforces
CSRF, throttles logins and API calls, and adds security headers to every
response. Settings are read from the environment (and .env.local).`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
