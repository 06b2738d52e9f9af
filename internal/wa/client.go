// Package wa talks to the WhatsApp Cloud API and models its webhook payloads.
package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v21.0"
	DefaultTimeout    = 20 * time.Second
)

// ErrTooLarge is returned when a download exceeds the caller's limit.
var ErrTooLarge = errors.New("wa: media exceeds size limit")

// APIError is a non-2xx Cloud API response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud api %d: %s", e.Status, e.Body)
}

// IsAuth reports whether the API rejected the credentials.
func (e *APIError) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// Credentials address one registered phone number.
type Credentials struct {
	AccessToken   string
	PhoneNumberID string
	APIVersion    string
}

// CredentialsFor builds credentials from a stored integration.
func CredentialsFor(in *store.Integration) Credentials {
	return Credentials{AccessToken: in.AccessToken, PhoneNumberID: in.PhoneNumberID, APIVersion: in.APIVersion}
}

// Client talks to the Cloud API over HTTPS.
type Client struct {
	http    *http.Client
	baseURL string
	version string
	log     *zap.Logger
}

// NewClient creates a client. Empty arguments fall back to the defaults.
func NewClient(baseURL, version string, timeout time.Duration, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if version == "" {
		version = DefaultAPIVersion
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
		log:     log.Named("wa"),
	}
}

func (c *Client) endpoint(cred Credentials, path string) string {
	version := cred.APIVersion
	if version == "" {
		version = c.version
	}
	return c.baseURL + "/" + version + "/" + strings.TrimLeft(path, "/")
}

// Outbound describes one message to send. Media kinds use MediaID when set,
// otherwise Link.
type Outbound struct {
	To       string
	Kind     string // text, image, video, audio, document
	Body     string
	MediaID  string
	Link     string
	Filename string
}

func (o Outbound) payload() (map[string]any, error) {
	p := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                o.To,
	}
	kind := o.Kind
	if kind == "" {
		kind = "text"
	}
	p["type"] = kind

	if kind == "text" {
		if o.Body == "" {
			return nil, errors.New("wa: text message without body")
		}
		p["text"] = map[string]any{"body": o.Body}
		return p, nil
	}
	if !IsMediaType(kind) {
		return nil, fmt.Errorf("wa: unsupported outbound kind %q", kind)
	}

	media := map[string]any{}
	switch {
	case o.MediaID != "":
		media["id"] = o.MediaID
	case o.Link != "":
		media["link"] = o.Link
	default:
		return nil, fmt.Errorf("wa: %s message without media id or link", kind)
	}
	if o.Body != "" && kind != TypeAudio {
		media["caption"] = o.Body
	}
	if o.Filename != "" && kind == TypeDocument {
		media["filename"] = o.Filename
	}
	p[kind] = media
	return p, nil
}

// Send posts a message and returns the channel message id.
func (c *Client) Send(ctx context.Context, cred Credentials, msg Outbound) (string, error) {
	payload, err := msg.payload()
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(cred, cred.PhoneNumberID+"/messages"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := c.doJSON(req, cred, &out); err != nil {
		return "", err
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", errors.New("wa: send response without message id")
	}
	return out.Messages[0].ID, nil
}

// MediaMeta is the Cloud API's description of an uploaded media object.
type MediaMeta struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
	ID       string `json:"id"`
}

// MediaURL exchanges a media id for a short-lived download URL.
func (c *Client) MediaURL(ctx context.Context, cred Credentials, mediaID string) (*MediaMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(cred, mediaID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	var meta MediaMeta
	if err := c.doJSON(req, cred, &meta); err != nil {
		return nil, err
	}
	if meta.URL == "" {
		return nil, errors.New("wa: media lookup returned no url")
	}
	return &meta, nil
}

// Download fetches the bytes behind a media URL. A positive maxBytes caps
// the body size.
func (c *Client) Download(ctx context.Context, cred Credentials, url string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Body: string(b)}
	}

	r := io.Reader(resp.Body)
	if maxBytes > 0 {
		r = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

func (c *Client) doJSON(req *http.Request, cred Credentials, out any) error {
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		c.log.Debug("cloud api error", zap.String("path", req.URL.Path), zap.Int("status", resp.StatusCode))
		return &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
