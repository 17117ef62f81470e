package coach

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"diet-coach/internal/config"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultTimeout = 30 * time.Second
	tokenTTL       = 5 * time.Minute
	tokenAudience  = "diet-coach"
)

// Call describes one finished backend request.
type Call struct {
	Endpoint string
	Status   int
	Latency  time.Duration
	Err      error
}

// Observer receives a Call after every backend request.
type Observer interface {
	ObserveCall(ctx context.Context, call Call)
}

// Client talks to the coaching backend on behalf of one user.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	keyID       string
	keySecret   []byte
	staticToken string
	userID      string
	observer    Observer
	validate    *validator.Validate
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithObserver registers an observer for every backend call.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient creates a new backend client. COACH_API_KEY takes precedence over COACH_API_TOKEN.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.CoachAPIURL, "/"),
		httpClient:  &http.Client{Timeout: defaultTimeout},
		staticToken: cfg.CoachAPIToken,
		validate:    validator.New(),
	}
	if cfg.CoachAPIKey != "" {
		id, secretHex, ok := strings.Cut(cfg.CoachAPIKey, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid api key format: expected id:secret")
		}
		secret, err := hex.DecodeString(secretHex)
		if err != nil {
			return nil, fmt.Errorf("failed to decode secret hex: %w", err)
		}
		c.keyID = id
		c.keySecret = secret
	}
	if c.keySecret == nil && c.staticToken == "" {
		return nil, fmt.Errorf("no backend credentials configured")
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ForUser returns a copy of the client that acts as userID.
func (c *Client) ForUser(userID string) *Client {
	cp := *c
	cp.userID = userID
	return &cp
}

// authorization returns the Authorization header value. A signed key mints a
// short-lived token per request; otherwise the static token is sent.
func (c *Client) authorization() (string, error) {
	if c.keySecret == nil {
		return "Bearer " + c.staticToken, nil
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   c.userID,
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	})
	token.Header["kid"] = c.keyID

	signed, err := token.SignedString(c.keySecret)
	if err != nil {
		return "", err
	}
	return "Bearer " + signed, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type request struct {
	method      string
	endpoint    string // route template, used for errors and metrics
	path        string
	body        io.Reader
	contentType string
}

func jsonRequest(method, endpoint, path string, payload any) (request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return request{}, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return request{method: method, endpoint: endpoint, path: path, body: bytes.NewReader(body), contentType: "application/json"}, nil
}

// do sends r and decodes the envelope's data into T.
func do[T any](ctx context.Context, c *Client, r request) (out T, err error) {
	start := time.Now()
	status := 0
	defer func() {
		if c.observer != nil {
			c.observer.ObserveCall(ctx, Call{Endpoint: r.endpoint, Status: status, Latency: time.Since(start), Err: err})
		}
	}()

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	auth, err := c.authorization()
	if err != nil {
		return out, fmt.Errorf("failed to create auth token: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, &NetworkError{Endpoint: r.endpoint, Err: err}
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, &NetworkError{Endpoint: r.endpoint, Err: err}
	}

	var env envelope
	var decodeErr error
	if len(bytes.TrimSpace(raw)) > 0 {
		decodeErr = json.Unmarshal(raw, &env)
	} else {
		env.Success = true
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &APIError{Endpoint: r.endpoint, Status: resp.StatusCode, Message: env.Message}
	}
	if decodeErr != nil {
		return out, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if !env.Success {
		return out, &APIError{Endpoint: r.endpoint, Status: resp.StatusCode, Message: env.Message}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("failed to decode response data: %w", err)
	}
	return out, nil
}

func (c *Client) check(v any) error {
	if err := c.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
