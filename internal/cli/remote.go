package cli

import (
	"net"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/kvblob/internal/client"
	"github.com/kilupskalvis/kvblob/internal/config"
)

var (
	remoteURL        string
	remoteAdminToken string
)

// addRemoteFlags registers the connection flags shared by client commands.
// Every parent binds the same package-level vars; only one command path
// executes per process.
func addRemoteFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&remoteURL, "url", "", "Server base URL (default derived from server.listen)")
	cmd.PersistentFlags().StringVar(&remoteAdminToken, "admin-token", "", "Admin token (default server.admin_token)")
}

// serverURL is the URL a local client uses to reach the configured listener.
func serverURL(c *config.Config) string {
	scheme := "http"
	if c.Server.TLSCert != "" {
		scheme = "https"
	}
	host, port, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return scheme + "://" + c.Server.Listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return scheme + "://" + net.JoinHostPort(host, port)
}

func newClient() client.Client {
	base := remoteURL
	if base == "" {
		base = serverURL(cfg)
	}
	token := remoteAdminToken
	if token == "" {
		token = cfg.Server.AdminToken
	}
	hc := client.NewHTTPClient(strings.TrimSpace(base), client.WithAdminToken(token))
	return client.NewRetryClient(hc, nil)
}
