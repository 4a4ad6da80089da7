package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/celestiaorg/wgvpn/internal/db/models"
	"github.com/celestiaorg/wgvpn/internal/types"
	"github.com/celestiaorg/wgvpn/pkg/api/v1/client"
)

const (
	flagID       = "id"
	flagLocation = "location"
	flagWait     = "wait"
	flagInterval = "interval"
	flagOutput   = "output"
	flagTimeout  = "timeout"
)

// jobOutput is the subset of a job snapshot printed by the CLI
type jobOutput struct {
	OperationID string     `json:"operationId"`
	Status      string     `json:"status"`
	Progress    string     `json:"progress"`
	PublicIP    string     `json:"publicIp,omitempty"`
	Error       string     `json:"error,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	ConfFile    string     `json:"confFile,omitempty"`
}

func newJobOutput(s types.JobStatusResponse) jobOutput {
	out := jobOutput{
		OperationID: s.OperationID,
		Status:      s.Status.String(),
		Progress:    s.Progress,
		Error:       s.Error,
		ExpiresAt:   s.ExpiresAt,
	}
	if s.Result != nil {
		out.PublicIP = s.Result.PublicIP
	}
	return out
}

func (c *cli) vpnCmd() *cobra.Command {
	vpnCmd := &cobra.Command{
		Use:   "vpn",
		Short: "Start and follow VPN sessions",
	}
	vpnCmd.AddCommand(c.startCmd(), c.statusCmd(), c.waitCmd())
	return vpnCmd
}

func (c *cli) startCmd() *cobra.Command {
	var (
		location string
		wait     bool
		interval time.Duration
		timeout  time.Duration
		output   string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Request a new VPN server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := c.apiClient.StartJob(cmd.Context(), types.StartJobRequest{Location: location})
			if err != nil {
				return fmt.Errorf("error starting job: %w", err)
			}
			if !wait && output == "" {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Job %s accepted, waiting for it to finish...\n", resp.OperationID)
			return c.waitAndReport(cmd, resp.OperationID, interval, timeout, output)
		},
	}

	cmd.Flags().StringVarP(&location, flagLocation, "l", "", "Cloud region for the server (server default when empty)")
	cmd.Flags().BoolVarP(&wait, flagWait, "w", false, "Wait until the job completes or fails")
	cmd.Flags().DurationVar(&interval, flagInterval, client.DefaultPollInterval, "Poll interval while waiting")
	cmd.Flags().DurationVar(&timeout, flagTimeout, 15*time.Minute, "Give up waiting after this long")
	cmd.Flags().StringVarP(&output, flagOutput, "o", "", "Write the client configuration to this file (implies --wait)")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current state of a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := c.apiClient.GetJobStatus(cmd.Context(), id)
			if client.IsNotFound(err) {
				return fmt.Errorf("job %s not found", id)
			}
			if err != nil {
				return fmt.Errorf("error fetching job: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), newJobOutput(status))
		},
	}

	cmd.Flags().StringVarP(&id, flagID, "i", "", "Operation ID of the job")
	_ = cmd.MarkFlagRequired(flagID)
	return cmd
}

func (c *cli) waitCmd() *cobra.Command {
	var (
		id       string
		interval time.Duration
		timeout  time.Duration
		output   string
	)

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for a job to complete or fail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.waitAndReport(cmd, id, interval, timeout, output)
		},
	}

	cmd.Flags().StringVarP(&id, flagID, "i", "", "Operation ID of the job")
	cmd.Flags().DurationVar(&interval, flagInterval, client.DefaultPollInterval, "Poll interval")
	cmd.Flags().DurationVar(&timeout, flagTimeout, 15*time.Minute, "Give up waiting after this long")
	cmd.Flags().StringVarP(&output, flagOutput, "o", "", "Write the client configuration to this file")
	_ = cmd.MarkFlagRequired(flagID)
	return cmd
}

// waitAndReport polls the job to a terminal state, prints it, and writes the configuration when asked
func (c *cli) waitAndReport(cmd *cobra.Command, id string, interval, timeout time.Duration, output string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	final, err := c.apiClient.WaitForJob(ctx, id, interval)
	if client.IsNotFound(err) {
		return fmt.Errorf("job %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("error waiting for job: %w", err)
	}

	out := newJobOutput(final)
	if final.Status == models.JobStatusCompleted && output != "" && final.Result != nil {
		if err := os.WriteFile(output, []byte(final.Result.ConfText), 0o600); err != nil {
			return fmt.Errorf("error writing client configuration: %w", err)
		}
		out.ConfFile = output
	}
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if final.Status == models.JobStatusFailed {
		return fmt.Errorf("job %s failed: %s", id, final.Error)
	}
	return nil
}
