package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/encodeous/spark/core"
	"github.com/spf13/cobra"
)

// neighborsCmd represents the neighbors command
var neighborsCmd = &cobra.Command{
	Use:   "neighbors",
	Short: "Dump the neighbor table of a running agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := http.Get(fmt.Sprintf("http://%s/neighbors", statusAddr))
		if err != nil {
			return fmt.Errorf("is the agent running with status_addr set? %w", err)
		}
		defer res.Body.Close()
		var neighbors []core.NeighborSummary
		if err := json.NewDecoder(res.Body).Decode(&neighbors); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "IFACE\tNEIGHBOR\tSTATE\tAREA\tV4\tV6\tRTT(µs)")
		for _, n := range neighbors {
			st := n.State
			if n.Restarting {
				st += " (restarting)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n", n.IfName, n.Node, st, n.Area, n.TransportV4, n.TransportV6, n.RttUs)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(neighborsCmd)
}
