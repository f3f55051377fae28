package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/trminhdn/signalflow/internal/core/config"
	"github.com/trminhdn/signalflow/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of a running signalflow instance",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	url := fmt.Sprintf("http://localhost:%d/health/detailed", cfg.Server.Port)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		slog.Error("Failed to reach service", "url", url, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var report monitoring.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		slog.Error("Failed to decode status", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "COMPONENT\tSTATUS\tDETAIL")
	_, _ = fmt.Fprintf(w, "overall\t%s\tchecked %s\n",
		report.Status, report.CheckedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "upstream\t%s\tavg latency %s, %d requests last hour\n",
		report.Upstream.Status, report.Upstream.AverageLatency.Round(time.Millisecond), report.Upstream.RequestsLastHour)
	_, _ = fmt.Fprintf(w, "orchestrator\t%s\tcooldown remaining %s\n",
		refreshState(report.Orchestrator.Refreshing), report.Orchestrator.CooldownRemaining.Round(time.Second))
	_, _ = fmt.Fprintf(w, "queue\t%d in flight\t\n", report.QueueInFlight)
	if report.Budget != nil && report.Budget.DailyQuota > 0 {
		_, _ = fmt.Fprintf(w, "budget\t%.1f%% used\t%d of %d calls\n",
			report.Budget.UsagePercentage, report.Budget.TotalCalls, report.Budget.DailyQuota)
	}
	_, _ = fmt.Fprintf(w, "storage\t%s\t%s\n", reachability(report.Storage), report.Storage.Error)
	_, _ = fmt.Fprintf(w, "cache\t%s\t%s\n", reachability(report.Cache), report.Cache.Error)
	_ = w.Flush()
}

func refreshState(refreshing bool) string {
	if refreshing {
		return "refreshing"
	}
	return "idle"
}

func reachability(c monitoring.ComponentHealth) string {
	switch {
	case !c.Configured:
		return "memory"
	case c.Reachable:
		return "ok"
	default:
		return "unreachable"
	}
}
