package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// routesCmd represents the routes command
var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Dump the programmed route caches of a running agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := http.Get(fmt.Sprintf("http://%s/routes", statusAddr))
		if err != nil {
			return fmt.Errorf("is the agent running with fib enabled? %w", err)
		}
		defer res.Body.Close()
		var routes []struct {
			Client   string   `json:"client"`
			Prefix   string   `json:"prefix"`
			NextHops []string `json:"nextHops"`
		}
		if err := json.NewDecoder(res.Body).Decode(&routes); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CLIENT\tPREFIX\tNEXTHOPS")
		for _, r := range routes {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Client, r.Prefix, strings.Join(r.NextHops, ","))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
}
