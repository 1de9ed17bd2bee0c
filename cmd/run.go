package cmd

import (
	"github.com/encodeous/spark/core"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the spark agent",
	Long:  `This will run the spark agent on the current host. Ensure it has enough permissions to open multicast sockets and, with fib enabled, mutate kernel routes.`,
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logPath, _ := cmd.Flags().GetString("log")
		core.Bootstrap(configPath, logPath, verbose)
	},
}

func init() {
	runCmd.Flags().BoolP("verbose", "v", false, "enable debug logging")
	runCmd.Flags().String("log", "", "also write logs to this file")
	rootCmd.AddCommand(runCmd)
}
