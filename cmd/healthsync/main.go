package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "healthsync",
	Short: "Offline-first sync daemon for health records",
	Long: `healthsync queues health record writes on the device while the network is
unavailable and replays them against the remote document store once it is back.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	rootCmd.AddCommand(serveCmd, drainCmd, queueCmd)
}

func main() {
	defer glog.Flush()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "healthsync:", err)
		glog.Flush()
		os.Exit(1)
	}
}
