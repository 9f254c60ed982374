package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/config"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/web"
)

var (
	serverURL   string
	clientToken string
)

func addClientFlags(c *cobra.Command) {
	c.Flags().StringVar(&serverURL, "server", "",
		"management server URL (default: from server.host and server.port)")
	c.Flags().StringVar(&clientToken, "token", "",
		"admin token (default: server.admin_token)")
}

// managementClient talks to the file-handles pages of a running server.
type managementClient struct {
	base  string
	token string
	http  *http.Client
}

func newManagementClient(cfg *config.Config) *managementClient {
	base := serverURL
	if base == "" {
		host := cfg.Server.Host
		switch host {
		case "", "0.0.0.0", "::":
			host = "127.0.0.1"
		}
		base = "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
	}
	token := clientToken
	if token == "" {
		token = cfg.Server.AdminToken
	}
	return &managementClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: config.Duration(cfg.Server.WriteTimeout, 5*time.Minute)},
	}
}

// statusError is a non-2xx reply.
type statusError struct {
	Status  int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

func (c *managementClient) do(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	u := c.base + "/manage/" + web.LinkURLName + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{Status: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// errorMessage extracts the message of an error reply, which is JSON for
// domain errors and plain text otherwise.
func errorMessage(body []byte) string {
	var er web.ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		return er.Error
	}
	return strings.TrimSpace(string(body))
}
