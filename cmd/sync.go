package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/plate/internal/models"
	"github.com/marcus/plate/internal/output"
	platesync "github.com/marcus/plate/internal/sync"
	"github.com/marcus/plate/internal/syncclient"
	"github.com/marcus/plate/internal/syncconfig"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Inspect and drive history sync",
	GroupID: "sync",
}

// daemonHealth is GET /healthz on the daemon shell
type daemonHealth struct {
	Status  string              `json:"status"`
	Entries int                 `json:"entries"`
	Sync    *models.SyncSession `json:"sync,omitempty"`
}

// syncStatus is what `sync status --json` prints
type syncStatus struct {
	ServerURL string           `json:"serverUrl"`
	Reachable bool             `json:"reachable"`
	LoggedIn  bool             `json:"loggedIn"`
	Username  string           `json:"username,omitempty"`
	DeviceID  string           `json:"deviceId"`
	Daemon    bool             `json:"daemon"`
	State     models.ConnState `json:"state"`
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, login and connection state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()
		engine, err := a.newEngine()
		if err != nil {
			return err
		}

		st := syncStatus{
			ServerURL: a.cfg.ServerURL,
			LoggedIn:  syncconfig.IsAuthenticated(),
			DeviceID:  engine.DeviceID(),
			State:     models.StateDisconnected,
		}
		if creds, err := syncconfig.LoadAuth(); err == nil && creds != nil {
			st.Username = creds.Username
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		client := syncclient.New(a.cfg.ServerURL, "", st.DeviceID)
		client.MaxRetries = 0
		if _, err := client.HealthCheck(ctx); err == nil {
			st.Reachable = true
		}

		if addr := a.cfg.Shell(); addr != "" {
			rb := newRemoteBackend(addr)
			var h daemonHealth
			if rb.alive() && rb.do("GET", "/healthz", nil, &h) == nil {
				st.Daemon = true
				if h.Sync != nil {
					st.State = h.Sync.State
				}
			}
		}

		if jsonOut {
			return output.JSON(st)
		}
		out := cmd.OutOrStdout()
		reach := "unreachable"
		if st.Reachable {
			reach = "reachable"
		}
		fmt.Fprintf(out, "Server:   %s (%s)\n", st.ServerURL, reach)
		if st.LoggedIn {
			fmt.Fprintf(out, "Account:  %s\n", st.Username)
		} else {
			fmt.Fprintln(out, "Account:  not logged in")
		}
		fmt.Fprintf(out, "Device:   %s\n", st.DeviceID)
		if st.Daemon {
			fmt.Fprintf(out, "Channel:  %s\n", output.FormatState(st.State))
		} else {
			fmt.Fprintln(out, "Channel:  watch daemon not running")
		}
		return nil
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Merge server history into the local history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()
		if addr := a.cfg.Shell(); addr != "" && newRemoteBackend(addr).alive() {
			return errors.New("the watch daemon owns the history and pulls on its own; stop it to pull manually")
		}

		engine, err := a.newEngine()
		if err != nil {
			return err
		}
		n, err := engine.PullHistory(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pulled %d new entries.\n", n)
		return nil
	},
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the local history to the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()
		engine, err := a.newEngine()
		if err != nil {
			return err
		}

		entries := a.history.List()
		if n, _ := cmd.Flags().GetInt("limit"); n > 0 && len(entries) > n {
			entries = entries[:n]
		}
		// Oldest first so server order matches capture order
		slices.Reverse(entries)

		n, err := engine.Upload(cmd.Context(), entries)
		if err != nil {
			if errors.Is(err, platesync.ErrNotLoggedIn) {
				return err
			}
			return fmt.Errorf("uploaded %d of %d: %w", n, len(entries), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d entries.\n", n)
		return nil
	},
}

func init() {
	syncPushCmd.Flags().IntP("limit", "n", 0, "upload only the newest n entries")
	syncCmd.AddCommand(syncStatusCmd, syncPullCmd, syncPushCmd)
	rootCmd.AddCommand(syncCmd)
}
