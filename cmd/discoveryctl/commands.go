package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/aegisshield/discovery-console/internal/aggregation"
	"github.com/aegisshield/discovery-console/internal/batch"
	"github.com/aegisshield/discovery-console/internal/deletion"
	"github.com/aegisshield/discovery-console/internal/discovery"
	"github.com/aegisshield/discovery-console/internal/models"
)

var (
	discoveryLimit int
	reportLevel    string
	confirmPhrase  string
	detailMode     string
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the alert discoveries summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer srv.Close()

		list, err := srv.Backend.ListCriticalDiscoveries(cmd.Context(), discoveryLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), aggregation.SummarizeDiscoveries(list))
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List critical discoveries",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer srv.Close()

		list, err := srv.Backend.ListCriticalDiscoveries(cmd.Context(), discoveryLimit)
		if err != nil {
			return err
		}
		return printDiscoveries(cmd.OutOrStdout(), list)
	},
}

var showCmd = &cobra.Command{
	Use:   "show ALERT_ID",
	Short: "Show the detail view of one alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := discovery.ParseMode(detailMode)
		if err != nil {
			return err
		}

		srv, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer srv.Close()

		list, err := srv.Backend.ListCriticalDiscoveries(cmd.Context(), discoveryLimit)
		if err != nil {
			return err
		}
		d, ok := discovery.Find(list, args[0])
		if !ok {
			return fmt.Errorf("alert %s not found", args[0])
		}
		return printJSON(cmd.OutOrStdout(), discovery.BuildDetailView(d, mode))
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze DIRECTORY...",
	Short: "Run a batch analysis and wait for it to finish",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer srv.Close()

		out := cmd.OutOrStdout()
		updates := make(chan batch.Snapshot, 16)
		srv.Batch.OnUpdate(func(s batch.Snapshot) {
			select {
			case updates <- s:
			default:
			}
		})

		snap, err := srv.Batch.Submit(cmd.Context(), args, models.ReportLevel(reportLevel))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Job %s started for %d alerts\n", snap.JobID, snap.Total)

		for {
			select {
			case <-cmd.Context().Done():
				snap := srv.Batch.Stop()
				fmt.Fprintf(out, "Stopped polling job %s (%d/%d done)\n", snap.JobID, snap.Completed+snap.Failed, snap.Total)
				return nil
			case s := <-updates:
				fmt.Fprintf(out, "%s: %d completed, %d failed of %d\n", s.State, s.Completed, s.Failed, s.Total)
				if !s.Terminal() {
					continue
				}
				if err := printResults(out, s.Results); err != nil {
					return err
				}
				if s.State == batch.StateFailed {
					return fmt.Errorf("batch job %s failed", s.JobID)
				}
				return nil
			}
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete ALERT_ID...",
	Short: "Delete alerts and all of their discoveries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer srv.Close()

		out := cmd.OutOrStdout()
		outcome := srv.Deletion.DeleteSelected(cmd.Context(), args, deletion.Options{
			Progress: func(p deletion.Progress) {
				status := "deleted"
				if p.Error != "" {
					status = "failed: " + p.Error
				}
				fmt.Fprintf(out, "[%d/%d] %s %s\n", p.Processed, p.Requested, p.ID, status)
			},
		})
		fmt.Fprintln(out, outcome.Message)
		if outcome.Kind != deletion.AllSucceeded {
			return fmt.Errorf("%d of %d deletions failed", outcome.Failed, outcome.Requested)
		}
		return nil
	},
}

var deleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete every alert instance",
	Long:  fmt.Sprintf("Deletes every alert instance on the backend. Requires --confirm %q.", deletion.ConfirmationPhrase),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer srv.Close()

		outcome, err := srv.Deletion.DeleteAll(cmd.Context(), confirmPhrase, deletion.Options{})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), outcome.Message)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{summaryCmd, listCmd, showCmd} {
		c.Flags().IntVar(&discoveryLimit, "limit", 10, "Maximum number of alerts to load")
	}
	showCmd.Flags().StringVar(&detailMode, "mode", "page", "Presentation mode (page, modal, inline, popover)")
	analyzeCmd.Flags().StringVar(&reportLevel, "report-level", string(models.ReportLevelSummary), "Report level (summary or full)")
	deleteAllCmd.Flags().StringVar(&confirmPhrase, "confirm", "", "Confirmation phrase")

	rootCmd.AddCommand(summaryCmd, listCmd, showCmd, analyzeCmd, deleteCmd, deleteAllCmd)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDiscoveries(w io.Writer, list []models.CriticalDiscoveryDrilldown) error {
	table := tablewriter.NewWriter(w)
	table.Header("Alert ID", "Name", "Module", "Severity", "Discoveries", "Exposure")
	for _, d := range list {
		err := table.Append([]string{
			d.AlertID,
			d.AlertName,
			d.Module,
			d.Severity,
			strconv.Itoa(d.EffectiveDiscoveryCount()),
			"$" + aggregation.FormatNumber(aggregation.ParseAmount(aggregation.DrilldownImpact(d))),
		})
		if err != nil {
			return err
		}
	}
	return table.Render()
}

func printResults(w io.Writer, results []batch.ItemResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("Alert", "Status", "Error")
	for _, r := range results {
		if err := table.Append([]string{r.AlertName, string(r.Status), r.Error}); err != nil {
			return err
		}
	}
	return table.Render()
}
