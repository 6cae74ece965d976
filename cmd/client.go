package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// resolveDaemon picks the daemon address and auth token, preferring
// flag values over the config file.
func resolveDaemon(addrFlag, tokenFlag string) (addr, token string, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", "", err
	}
	addr = addrFlag
	if addr == "" {
		addr = cfg.Server.Addr()
	}
	token = tokenFlag
	if token == "" {
		token = cfg.Server.AuthToken
	}
	return addr, token, nil
}

// daemonClient calls a running daemon's REST API.
type daemonClient struct {
	base  string
	token string
	http  *http.Client
}

func newDaemonClient(addr, token string) *daemonClient {
	return &daemonClient{
		base:  "http://" + addr,
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *daemonClient) get(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodGet, path, out)
}

func (c *daemonClient) call(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s (is \"deskmind serve\" running?): %w", c.base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read daemon response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode daemon response: %w", err)
	}
	return nil
}
