package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	statusAddr string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "spark",
	Short: "Spark neighbor discovery agent",
	Long: `Spark discovers directly-attached routing peers over L2 interfaces,
negotiates adjacencies and reports neighbor liveness to the routing stack.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "spark.yaml", "agent configuration")
	rootCmd.PersistentFlags().StringVarP(&statusAddr, "addr", "a", "127.0.0.1:9090", "status address of a running agent")
}
