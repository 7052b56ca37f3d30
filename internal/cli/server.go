package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/kvblob/internal/app"
	"github.com/kilupskalvis/kvblob/internal/logger"
	"github.com/kilupskalvis/kvblob/internal/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the kvblob server",
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the kvblob HTTP server",
	Long: `Start the kvblob HTTP server.

Blobs are written under <data-dir>/data/<shard>/<key> and metadata to the
configured engine (bbolt by default, in <data-dir>/meta.db). The admin token
enables POST /admin/reconcile.

Examples:
  kvblob server start
  kvblob server start --listen 127.0.0.1:3000 --data-dir /var/lib/kvblob
  kvblob server start --engine sqlite --staged-writes
  kvblob server start --tls-cert server.crt --tls-key server.key`,
	Args: cobra.NoArgs,
	RunE: runServerStart,
}

func init() {
	serverCmd.AddCommand(serverStartCmd)

	f := serverStartCmd.Flags()
	f.String("listen", "", "Listen address (host:port)")
	f.String("data-dir", "", "Directory for blobs and metadata")
	f.String("engine", "", "Metadata engine (bbolt|leveldb|sqlite|redis|memory)")
	f.String("max-object-size", "", "Largest accepted upload, e.g. 512MiB")
	f.String("admin-token", "", "Token for the /admin/ endpoints")
	f.String("tls-cert", "", "TLS certificate file")
	f.String("tls-key", "", "TLS key file")
	f.Bool("staged-writes", false, "Write blobs to a temp file and rename into place")
	f.StringSlice("webhook-urls", nil, "Webhook URLs notified on every mutation")

	for flag, key := range map[string]string{
		"listen":          "server.listen",
		"data-dir":        "storage.data_dir",
		"engine":          "meta.engine",
		"max-object-size": "server.max_object_size",
		"admin-token":     "server.admin_token",
		"tls-cert":        "server.tls_cert",
		"tls-key":         "server.tls_key",
		"staged-writes":   "storage.staged_writes",
		"webhook-urls":    "server.webhook_urls",
	} {
		bindConfigFlag(f, flag, key)
	}
}

func runServerStart(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.Close()

	h, cleanup, err := a.Handler(prometheus.DefaultGatherer)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info().
		Str("data_dir", cfg.Storage.DataDir).
		Str("engine", cfg.Meta.Engine).
		Msg("starting kvblob server")

	if err := server.Serve(ctx, nil, h, a.ListenConfig()); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
