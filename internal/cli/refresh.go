package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/trminhdn/signalflow/internal/core/config"
	"github.com/trminhdn/signalflow/internal/core/domain"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Trigger a refresh run on a running signalflow instance",
	Run:   runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	url := fmt.Sprintf("http://localhost:%d/api/v1/refresh", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		slog.Error("Failed to reach service", "url", url, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var body struct {
		Skipped    bool              `json:"skipped"`
		Reason     string            `json:"reason"`
		Superseded bool              `json:"superseded"`
		Run        *domain.RunReport `json:"run"`
		Error      string            `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Error("Failed to decode response", "status", resp.StatusCode, "error", err)
		os.Exit(1)
	}

	switch {
	case body.Skipped:
		fmt.Printf("Refresh skipped: %s\n", body.Reason)
	case body.Superseded:
		fmt.Println("Refresh superseded by a newer run")
	case body.Error != "":
		fmt.Printf("Refresh failed (HTTP %d): %s\n", resp.StatusCode, body.Error)
		os.Exit(1)
	case body.Run != nil:
		fmt.Printf("Refresh completed: %d signals, %d steps in %s\n",
			len(body.Run.Signals), int(body.Run.StepsDone), body.Run.Duration().Round(time.Millisecond))
	default:
		fmt.Printf("Unexpected response (HTTP %d)\n", resp.StatusCode)
		os.Exit(1)
	}
}
