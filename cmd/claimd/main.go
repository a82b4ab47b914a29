package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/claimd/pkg/client"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "claimd",
	Short: "claimd - resource assignment for observations and pipelines",
	Long: `claimd estimates the resources a task needs, finds a conflict-free
allocation across a shared pool of storage, bandwidth and compute resources,
and keeps that allocation consistent as tasks are rescheduled, extended,
aborted or deleted.

Run "claimd serve" on every manager node; the other commands talk to a
running manager over its gRPC API.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"claimd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("manager", "127.0.0.1:7950", "Manager API address")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "Timeout of each API call")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resourceCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(clusterCmd)
}

// connect opens a client to the manager named by the persistent flags
func connect(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("manager")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	c, err := client.NewClient(addr, client.WithTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to manager: %v", err)
	}
	return c, nil
}
