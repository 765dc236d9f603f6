// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/meshbridge/lib/clock"
	"github.com/bureau-foundation/meshbridge/lib/netutil"
	"github.com/bureau-foundation/meshbridge/lib/secret"
	"github.com/bureau-foundation/meshbridge/lib/version"
)

// DefaultAPIBase is the versioned REST root.
const DefaultAPIBase = "https://discord.com/api/v10"

// flagSuppressNotifications delivers a message without pinging anyone.
const flagSuppressNotifications = 1 << 12

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// APIBase defaults to DefaultAPIBase.
	APIBase string

	// Token is the bot token. The Client does not take ownership;
	// the caller closes it after the Client is no longer used.
	Token *secret.Buffer

	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client

	// Clock times 429 retry waits. Defaults to clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is a bot-authenticated REST client.
type Client struct {
	baseURL    string
	token      *secret.Buffer
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
	userAgent  string
}

// NewClient creates a REST client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Token == nil || config.Token.Len() == 0 {
		return nil, errors.New("discord: Token is required")
	}
	base := config.APIBase
	if base == "" {
		base = DefaultAPIBase
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("discord: invalid APIBase %q: %w", base, err)
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		token:      config.Token,
		httpClient: config.HTTPClient,
		clock:      config.Clock,
		logger:     config.Logger,
		userAgent:  "DiscordBot (https://github.com/bureau-foundation/meshbridge, " + version.Short() + ")",
	}, nil
}

// GatewayURL returns the websocket URL from GET /gateway/bot. A
// rejected token yields an *AuthenticationError.
func (c *Client) GatewayURL(ctx context.Context) (string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/gateway/bot", nil)
	if err != nil {
		return "", fmt.Errorf("discord: fetching gateway URL: %w", err)
	}
	var response struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("discord: parsing gateway response: %w", err)
	}
	if response.URL == "" {
		return "", errors.New("discord: gateway response has no url")
	}
	return response.URL, nil
}

type embedAuthor struct {
	Name string `json:"name"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Author      *embedAuthor `json:"author,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

type createMessageRequest struct {
	Embeds          []embed         `json:"embeds"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
	Flags           int             `json:"flags"`
}

func newCreateMessageRequest(message Message) createMessageRequest {
	rendered := embed{
		Title:       message.Title,
		Description: message.Body,
		Color:       message.Kind.Color(),
	}
	if !message.Timestamp.IsZero() {
		rendered.Timestamp = message.Timestamp.UTC().Format(time.RFC3339)
	}
	if message.Author != "" {
		rendered.Author = &embedAuthor{Name: message.Author}
	}
	for _, field := range message.Fields {
		rendered.Fields = append(rendered.Fields, embedField{Name: field.Name, Value: field.Value, Inline: field.Inline})
	}
	return createMessageRequest{
		Embeds:          []embed{rendered},
		AllowedMentions: allowedMentions{Parse: []string{}},
		Flags:           flagSuppressNotifications,
	}
}

// SendMessage posts message to its destination channel as a silent
// embed that cannot ping anyone. A 429 is retried once after the
// delay the server specifies; a second 429 is returned.
func (c *Client) SendMessage(ctx context.Context, message Message) error {
	if message.Destination == 0 {
		return errors.New("discord: message has no destination")
	}
	path := "/channels/" + message.Destination.String() + "/messages"
	request := newCreateMessageRequest(message)

	_, err := c.doRequest(ctx, http.MethodPost, path, request)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		return err
	}

	c.logger.Warn("discord rejected send with 429, retrying once",
		"destination", message.Destination,
		"retry_after", apiErr.RetryAfter,
		"global", apiErr.Global,
	)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(apiErr.RetryAfter):
	}
	_, err = c.doRequest(ctx, http.MethodPost, path, request)
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, requestBody any) ([]byte, error) {
	var encoded []byte
	if requestBody != nil {
		var err error
		encoded, err = json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("discord: failed to encode request body: %w", err)
		}
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("discord: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bot "+c.token.String())
	request.Header.Set("User-Agent", c.userAgent)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("discord: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("discord: failed to read response body: %w", err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	apiErr := &APIError{StatusCode: response.StatusCode}
	var decoded struct {
		Code       int     `json:"code"`
		Message    string  `json:"message"`
		RetryAfter float64 `json:"retry_after"`
		Global     bool    `json:"global"`
	}
	if jsonErr := json.Unmarshal(responseBody, &decoded); jsonErr == nil {
		apiErr.Code = decoded.Code
		apiErr.Message = decoded.Message
		apiErr.Global = decoded.Global
		apiErr.RetryAfter = time.Duration(decoded.RetryAfter * float64(time.Second))
	} else {
		apiErr.Message = strings.TrimSpace(string(responseBody))
	}
	if apiErr.RetryAfter == 0 {
		if seconds, parseErr := strconv.ParseFloat(response.Header.Get("Retry-After"), 64); parseErr == nil {
			apiErr.RetryAfter = time.Duration(seconds * float64(time.Second))
		}
	}

	if response.StatusCode == http.StatusUnauthorized {
		return nil, &AuthenticationError{Reason: apiErr.Message, Err: apiErr}
	}
	return nil, apiErr
}
