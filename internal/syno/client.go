// Package syno speaks the Synology DSM WebAPI: session login and
// logout, user records, and paginated audit log retrieval. All
// requests are plain GETs against the NAS with query-string
// parameters; responses arrive in a uniform success/data/error
// envelope.
package syno

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
)

// userAdditional names the extra attribute groups requested alongside
// the core user record.
const userAdditional = `["description","email"]`

// Config controls how the client reaches the NAS.
type Config struct {
	Host string
	Port int
	// HTTPClient overrides the transport; nil means a plain http.Client.
	HTTPClient *http.Client
	// Retry bounds request reattempts; the zero value selects
	// DefaultRetryPolicy.
	Retry RetryPolicy
}

// Client is a session-holding DSM WebAPI client. The session token is
// an owned field, set by Login and cleared by Logout. The client is
// not safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client
	retry   RetryPolicy
	sid     string
}

// NewClient builds a client for the WebAPI endpoint of one NAS.
func NewClient(cfg Config) *Client {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}
	retry := cfg.Retry
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy()
	}
	return &Client{
		baseURL: fmt.Sprintf("http://%s/webapi/", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))),
		httpc:   httpc,
		retry:   retry,
	}
}

// Authenticated reports whether the client holds a session token.
func (c *Client) Authenticated() bool { return c.sid != "" }

// Login opens a session. otp may be empty when the account has no
// two-factor enrollment. Success is judged by the presence of a
// session token in the response data; the envelope success flag is not
// trusted for this call.
func (c *Client) Login(ctx context.Context, account, password, otp string) error {
	params := url.Values{}
	params.Set("api", "SYNO.API.Auth")
	params.Set("version", "7")
	params.Set("method", "login")
	params.Set("account", account)
	params.Set("passwd", password)
	params.Set("format", "sid")
	if otp != "" {
		params.Set("otp_code", otp)
	}
	env, err := c.get(ctx, "login", "auth.cgi", params)
	if err != nil {
		return err
	}
	if len(env.Data) > 0 {
		var data struct {
			SID string `json:"sid"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("syno login: decode data: %w", err)
		}
		if data.SID != "" {
			c.sid = data.SID
			log.Printf("syno: session opened for account %q", account)
			return nil
		}
	}
	return &APIError{Op: "login", Code: env.errorCode()}
}

// Logout closes the session. Holding no session is a no-op. A reported
// API failure keeps the token so a later attempt can still present it.
// Logout is a single attempt: a dangling DSM session expires on its
// own, so retrying buys nothing.
func (c *Client) Logout(ctx context.Context) error {
	if c.sid == "" {
		return nil
	}
	params := url.Values{}
	params.Set("api", "SYNO.API.Auth")
	params.Set("version", "7")
	params.Set("method", "logout")
	params.Set("_sid", c.sid)
	env, err := c.getOnce(ctx, "logout", "auth.cgi", params)
	if err != nil {
		return err
	}
	if !env.Success {
		return &APIError{Op: "logout", Code: env.errorCode()}
	}
	c.sid = ""
	log.Printf("syno: session closed")
	return nil
}

// UserInfo fetches user records. An empty name lists every user, a
// non-empty name fetches that single account. Description and email
// attributes ride along for reporting.
func (c *Client) UserInfo(ctx context.Context, name string) ([]RawRecord, error) {
	if c.sid == "" {
		return nil, ErrNotAuthenticated
	}
	params := url.Values{}
	params.Set("api", "SYNO.Core.User")
	params.Set("version", "1")
	if name == "" {
		params.Set("method", "list")
	} else {
		params.Set("method", "get")
		params.Set("name", name)
	}
	params.Set("additional", userAdditional)
	params.Set("_sid", c.sid)
	env, err := c.get(ctx, "user info", "entry.cgi", params)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, &APIError{Op: "user info", Code: env.errorCode()}
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("syno user info: response has no data")
	}
	var data struct {
		Users []RawRecord `json:"users"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("syno user info: decode data: %w", err)
	}
	if data.Users == nil {
		return nil, fmt.Errorf("syno user info: response has no users")
	}
	return data.Users, nil
}

// LogPage fetches one window of the audit log. The session check lives
// here so every caller, looped or not, passes through it.
func (c *Client) LogPage(ctx context.Context, logtype string, offset, limit int) (Page, error) {
	if c.sid == "" {
		return Page{}, ErrNotAuthenticated
	}
	params := url.Values{}
	params.Set("api", "SYNO.Core.SyslogClient.Log")
	params.Set("version", "1")
	params.Set("method", "list")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("logtype", logtype)
	params.Set("_sid", c.sid)
	env, err := c.get(ctx, "log page", "entry.cgi", params)
	if err != nil {
		return Page{}, err
	}
	if !env.Success {
		return Page{}, &APIError{Op: "log page", Code: env.errorCode()}
	}
	if len(env.Data) == 0 {
		return Page{}, fmt.Errorf("syno log page: response has no data")
	}
	var data struct {
		Items []RawRecord `json:"items"`
		Total int         `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return Page{}, fmt.Errorf("syno log page: decode data: %w", err)
	}
	if data.Items == nil {
		return Page{}, fmt.Errorf("syno log page: response has no items")
	}
	return Page{Items: data.Items, Total: data.Total}, nil
}

// get performs getOnce under the client's retry policy. Only transport
// failures are retried.
func (c *Client) get(ctx context.Context, op, endpoint string, params url.Values) (*envelope, error) {
	var env *envelope
	err := c.retry.do(ctx, func(ctx context.Context) error {
		var attemptErr error
		env, attemptErr = c.getOnce(ctx, op, endpoint, params)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// getOnce performs one GET against the named CGI endpoint and decodes
// the response envelope. Connection, status, and body-read failures
// are transport errors; a body that is not valid JSON is a data error
// because resending the request cannot fix it.
func (c *Client) getOnce(ctx context.Context, op, endpoint string, params url.Values) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("syno %s: decode response: %w", op, err)
	}
	return &env, nil
}
