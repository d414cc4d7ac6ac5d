package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/hivedesk/hivedesk/internal/registry"

	"github.com/spf13/cobra"
)

func NewConnectorsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connectors",
		Short: "List the connector catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnectors()
		},
	}

	return cmd
}

func runConnectors() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tAUTH\tWEBHOOKS\tSTATUS")

	for _, connector := range registry.NewDefault().ListActive() {
		auth := "api-key"
		if connector.IsOAuth() {
			auth = "oauth"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			connector.ID, connector.Name, connector.Category, auth,
			connector.SupportsWebhooks, connector.Status)
	}

	return w.Flush()
}
