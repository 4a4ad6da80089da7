package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/celestiaorg/wgvpn/internal/constants"
	"github.com/celestiaorg/wgvpn/pkg/api/v1/client"
	"github.com/celestiaorg/wgvpn/pkg/api/v1/routes"
)

// flag names
const (
	flagServerAddress  = "server-address"
	flagPrincipalEmail = "principal-email"
	flagPrincipalRoles = "principal-roles"
	flagToken          = "token"
)

// cli holds the state shared by the subcommands of one root command
type cli struct {
	apiClient      client.Client
	serverAddress  string
	principalEmail string
	principalRoles []string
	token          string
}

// initClient initializes the API client
func (c *cli) initClient() error {
	opts := client.DefaultOptions() // Start with defaults
	opts.BaseURL = c.serverAddress
	opts.Token = c.token
	opts.PrincipalEmail = c.principalEmail
	opts.PrincipalRoles = c.principalRoles

	var err error
	c.apiClient, err = client.NewClient(opts)
	return err
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "wgvpn-cli",
		Short: "WireGuard VPN CLI - start and follow on-demand VPN servers",
		Long: `wgvpn-cli requests an ephemeral WireGuard VPN server from the wgvpn API,
follows its provisioning job, and writes the client configuration once it is ready.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Precedence: Flag > Env Var > Default
			if !cmd.Flags().Changed(flagServerAddress) {
				if envAddr := os.Getenv(constants.EnvServerAddress); envAddr != "" {
					c.serverAddress = envAddr
				}
			}
			if c.serverAddress == "" {
				return fmt.Errorf("server address cannot be empty")
			}
			return c.initClient()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.serverAddress, flagServerAddress, "s", routes.DefaultBaseURL,
		fmt.Sprintf("Address of the wgvpn API server (env: %s)", constants.EnvServerAddress))
	flags.StringVar(&c.principalEmail, flagPrincipalEmail, "", "Send a client principal header for this email (local servers only)")
	flags.StringSliceVar(&c.principalRoles, flagPrincipalRoles, []string{"authenticated", "invited"}, "Roles carried by the client principal header")
	flags.StringVar(&c.token, flagToken, "", "Bearer token for servers running in jwt auth mode")

	rootCmd.AddCommand(c.vpnCmd())
	rootCmd.AddCommand(c.healthCmd())
	return rootCmd
}

// Execute runs the CLI
func Execute() error {
	return NewRootCmd().Execute()
}

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the API server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			health, err := c.apiClient.HealthCheck(cmd.Context())
			if err != nil {
				return fmt.Errorf("error checking health: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), health)
		},
	}
}

// printJSON pretty prints v
func printJSON(w io.Writer, v interface{}) error {
	prettyJSON, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	_, err = fmt.Fprintln(w, string(prettyJSON))
	return err
}
