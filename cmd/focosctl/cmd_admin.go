package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/auth"
	"github.com/aifocusdev/focos-ia-sub000/internal/config"
)

var (
	adminURL string
	adminID  int64
)

func init() {
	rootCmd.PersistentFlags().StringVar(&adminURL, "url", "", "daemon base URL (default derived from server.addr)")
	rootCmd.PersistentFlags().Int64Var(&adminID, "as", 1, "admin id admin requests are made as")
}

// adminCall sends an admin-authenticated request to the daemon and decodes
// the JSON response into out when out is non-nil.
func adminCall(ctx context.Context, cfg *config.Config, method, path string, in, out any, timeout time.Duration) error {
	base := adminURL
	if base == "" {
		base = baseURL(cfg.Server.Addr)
	}
	token, _, err := auth.GenerateToken(auth.Principal{UserID: adminID, Role: auth.RoleAdmin}, cfg.Auth.JWTSecret, time.Minute)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(base, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %s %s", method, path, resp.Status, e.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// baseURL turns a listen address into a loopback URL.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}
