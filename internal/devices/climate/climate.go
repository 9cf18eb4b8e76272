// Package climate is the cloud-backed air-conditioning client. Unlike the
// door and display controllers there is no local socket; every operation
// is a one-shot HTTPS call against the vendor API, wrapped in the retry
// policy from internal/retry. The client is also its own credential
// refresher: an expired access token is renewed once per call via the
// stored refresh token.
package climate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/nerrad567/shq-link/internal/retry"
)

// Vendor API defaults.
const (
	// DefaultBaseURL is the vendor cloud endpoint.
	DefaultBaseURL = "https://nimbus.actronair.com.au"

	// defaultHTTPTimeout bounds the transport; per-attempt timeouts come
	// from the retry policy on top of it.
	defaultHTTPTimeout = 30 * time.Second
)

// System modes accepted by the vendor API.
const (
	ModeOff  = "OFF"
	ModeCool = "COOL"
	ModeHeat = "HEAT"
	ModeAuto = "AUTO"
	ModeFan  = "FAN"
)

// Fan modes accepted by the vendor API.
const (
	FanLow    = "LOW"
	FanMedium = "MED"
	FanHigh   = "HIGH"
	FanAuto   = "AUTO"
)

// System identifies one AC system on the account.
type System struct {
	Serial string `json:"serial"`
	Name   string `json:"description"`
}

// Zone is one conditioned zone within a system.
type Zone struct {
	Name        string  `json:"NV_Title"`
	Enabled     bool    `json:"UserSetting_Enabled"`
	CurrentTemp float64 `json:"LiveTemp_oC"`
	TargetTemp  float64 `json:"TemperatureSetpoint_Cool_oC"`
}

// Status is a system's reported state.
type Status struct {
	Mode       string  `json:"Mode"`
	On         bool    `json:"isOn"`
	TargetTemp float64 `json:"TemperatureSetpoint_Cool_oC"`
	FanMode    string  `json:"FanMode"`
	Zones      []Zone  `json:"RemoteZoneInfo"`
}

// Config holds cloud client settings.
type Config struct {
	// BaseURL overrides the vendor endpoint, mainly for tests.
	BaseURL string

	// RefreshToken is the long-lived credential used to mint access tokens.
	RefreshToken string

	// ClientID identifies this installation to the token endpoint.
	ClientID string

	// Retry overrides the default retry policy. The Refresher and Logger
	// fields are filled in by New.
	Retry retry.Config

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Logger receives call-level events. Nil discards them.
	Logger retry.Logger
}

// Client calls the vendor cloud API with retry and token refresh.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client
	caller  *retry.Caller

	clientID string

	tokenMu      sync.RWMutex
	accessToken  string
	refreshToken string
}

// New creates a cloud client. No I/O happens until the first call; the
// first request mints an access token through the auth-failure path.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	c := &Client{
		baseURL:      cfg.BaseURL,
		httpc:        cfg.HTTPClient,
		clientID:     cfg.ClientID,
		refreshToken: cfg.RefreshToken,
	}

	rc := cfg.Retry
	rc.Refresher = c
	rc.Logger = cfg.Logger
	c.caller = retry.New(rc)

	return c
}

// RefreshCredentials exchanges the refresh token for a new access token.
// Implements retry.CredentialRefresher.
func (c *Client) RefreshCredentials(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.currentRefreshToken()},
		"client_id":     {c.clientID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v0/oauth/token", bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("climate: building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("climate: token request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Response body close on read path

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("climate: token endpoint returned %s", resp.Status)
	}

	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("climate: decoding token response: %w", err)
	}

	c.tokenMu.Lock()
	c.accessToken = token.AccessToken
	if token.RefreshToken != "" {
		c.refreshToken = token.RefreshToken
	}
	c.tokenMu.Unlock()
	return nil
}

// Systems fetches all AC systems on the account.
func (c *Client) Systems(ctx context.Context) ([]System, error) {
	return retry.Call(ctx, c.caller, "get_systems", func(ctx context.Context) ([]System, error) {
		var out struct {
			Embedded struct {
				Systems []System `json:"ac-system"`
			} `json:"_embedded"`
		}
		if err := c.get(ctx, "/api/v0/client/ac-systems?includeNeo=true", &out); err != nil {
			return nil, err
		}
		return out.Embedded.Systems, nil
	})
}

// Status fetches the latest reported state for one system.
func (c *Client) Status(ctx context.Context, serial string) (Status, error) {
	return retry.Call(ctx, c.caller, "get_status", func(ctx context.Context) (Status, error) {
		var out struct {
			LastKnownState struct {
				UserAirconSettings Status `json:"UserAirconSettings"`
				RemoteZoneInfo     []Zone `json:"RemoteZoneInfo"`
			} `json:"lastKnownState"`
		}
		path := "/api/v0/client/ac-systems/status/latest?serial=" + url.QueryEscape(serial)
		if err := c.get(ctx, path, &out); err != nil {
			return Status{}, err
		}
		status := out.LastKnownState.UserAirconSettings
		status.Zones = out.LastKnownState.RemoteZoneInfo
		return status, nil
	})
}

// SetMode sets the system mode. ModeOff turns the system off.
func (c *Client) SetMode(ctx context.Context, serial, mode string) error {
	settings := map[string]any{"UserAirconSettings.Mode": mode}
	if mode == ModeOff {
		settings = map[string]any{"UserAirconSettings.isOn": false}
	} else {
		settings["UserAirconSettings.isOn"] = true
	}
	return c.sendCommand(ctx, fmt.Sprintf("set_mode(%s)", mode), serial, settings)
}

// SetTemperature sets the master cooling setpoint.
func (c *Client) SetTemperature(ctx context.Context, serial string, temp float64) error {
	return c.sendCommand(ctx, fmt.Sprintf("set_temperature(%.1f)", temp), serial, map[string]any{
		"UserAirconSettings.TemperatureSetpoint_Cool_oC": temp,
	})
}

// SetFanMode sets the fan mode.
func (c *Client) SetFanMode(ctx context.Context, serial, mode string) error {
	return c.sendCommand(ctx, fmt.Sprintf("set_fan_mode(%s)", mode), serial, map[string]any{
		"UserAirconSettings.FanMode": mode,
	})
}

// SetAwayMode enables or disables away mode.
func (c *Client) SetAwayMode(ctx context.Context, serial string, enabled bool) error {
	return c.sendCommand(ctx, fmt.Sprintf("set_away_mode(%t)", enabled), serial, map[string]any{
		"UserAirconSettings.AwayMode": enabled,
	})
}

// SetQuietMode enables or disables quiet mode.
func (c *Client) SetQuietMode(ctx context.Context, serial string, enabled bool) error {
	return c.sendCommand(ctx, fmt.Sprintf("set_quiet_mode(%t)", enabled), serial, map[string]any{
		"UserAirconSettings.QuietMode": enabled,
	})
}

// EnableZone enables or disables one zone by index.
func (c *Client) EnableZone(ctx context.Context, serial string, zone int, enabled bool) error {
	return c.sendCommand(ctx, fmt.Sprintf("zone[%d].enable(%t)", zone, enabled), serial, map[string]any{
		fmt.Sprintf("UserAirconSettings.EnabledZones[%d]", zone): enabled,
	})
}

// SetZoneTemperature sets one zone's cooling setpoint by index.
func (c *Client) SetZoneTemperature(ctx context.Context, serial string, zone int, temp float64) error {
	return c.sendCommand(ctx, fmt.Sprintf("zone[%d].set_temperature(%.1f)", zone, temp), serial, map[string]any{
		fmt.Sprintf("RemoteZoneInfo[%d].TemperatureSetpoint_Cool_oC", zone): temp,
	})
}

// sendCommand posts a set-settings command under the retry policy.
func (c *Client) sendCommand(ctx context.Context, name, serial string, settings map[string]any) error {
	return c.caller.Do(ctx, name, func(ctx context.Context) error {
		command := map[string]any{"type": "set-settings"}
		for k, v := range settings {
			command[k] = v
		}
		body := map[string]any{"command": command}
		path := "/api/v0/client/ac-systems/cmds/send?serial=" + url.QueryEscape(serial)
		return c.post(ctx, path, body)
	})
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// do performs one authenticated JSON round trip. 401 and 403 are wrapped
// with retry.ErrAuthentication so the retry policy can refresh the token.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("climate: encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("climate: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.currentAccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("climate: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Response body close on read path

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s returned %s", retry.ErrAuthentication, method, path, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("climate: %s %s returned %s", method, path, resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("climate: decoding response: %w", err)
		}
	}
	return nil
}

func (c *Client) currentAccessToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.accessToken
}

func (c *Client) currentRefreshToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.refreshToken
}
