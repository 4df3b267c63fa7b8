package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ZephireNZ/home-assistant-core/internal/integrations/metservice"

	"github.com/spf13/cobra"
)

var citiesCmd = cobra.Command{
	Use:   "cities",
	Short: "List the MetService locations usable in the metservice configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeCities(cmd.OutOrStdout())
	},
}

func writeCities(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CITY\tID\tLATITUDE\tLONGITUDE")
	for _, c := range metservice.Cities() {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\n", c.Name, c.ID, c.Latitude, c.Longitude)
	}
	return tw.Flush()
}
