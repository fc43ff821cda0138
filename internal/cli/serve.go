package cli

import (
	"github.com/spf13/cobra"

	"github.com/valdirmariano/altaper4mance-sub000/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "Store driver: memory, sqlite, postgres, redis (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost  string
	servePort  int
	serveStore string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the progression API server",
	Long:  `Start the HTTP API, the write-behind persister and the live transition hub.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveStore != "" {
		cfg.Store.Driver = serveStore
	}

	d, err := daemon.NewWithConfig(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	return d.Serve(cmd.Context())
}
