package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stephnangue/vanguard/cmd/server"
)

var vanguardCmd = &cobra.Command{
	Use:   "vanguard",
	Short: "Vanguard is an identity-aware gateway for backend services",
	Long: `Vanguard sits in front of backend services and handles authentication,
authorization, rate limiting and request forwarding in one place. Backends
receive verified identity headers and never see client credentials.`,
}

func Execute() {
	if err := vanguardCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	vanguardCmd.AddCommand(server.ServerCmd)
}
