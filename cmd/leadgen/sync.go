package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/radiusdt/leadgen-analytics/internal/metasync"
	"github.com/spf13/cobra"
)

var syncReq metasync.Request

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one Meta Ads sync action and print the result",
	Long: `Run one Meta Ads sync action against the configured storage.

Credentials come from META_ACCESS_TOKEN and META_AD_ACCOUNT_ID.

Examples:
  leadgen sync --action list_campaigns
  leadgen sync --action sync_performance --campaign 123 --from 2024-05-01 --to 2024-05-07
  leadgen sync --action auto_sync`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncReq.Action, "action", metasync.ActionAutoSync, "list_campaigns, sync_performance or auto_sync")
	syncCmd.Flags().StringSliceVar(&syncReq.CampaignIDs, "campaign", nil, "campaign IDs for sync_performance")
	syncCmd.Flags().StringVar(&syncReq.StartDate, "from", "", "first day (YYYY-MM-DD)")
	syncCmd.Flags().StringVar(&syncReq.EndDate, "to", "", "last day (YYYY-MM-DD)")
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	resp, status := a.sync.Handle(cmd.Context(), syncReq)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("sync failed with status %d", status)
	}
	return nil
}
