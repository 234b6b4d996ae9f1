package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/2beens/gymweb/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const maxResponseBytes = 1 << 20

var (
	// ErrInvalidResponse is returned when the response body is not the JSON the
	// endpoint promises, regardless of the status code.
	ErrInvalidResponse = errors.New("invalid response from server")
)

// StatusError is a non-2xx response whose body was valid JSON.
type StatusError struct {
	StatusCode int
	// Message is the "message" field of the error payload, may be empty.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend responded with status %d: %s", e.StatusCode, e.Message)
}

type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type DurationObserver func(endpoint string, statusCode int, duration time.Duration)

type ClientOption func(c *Client)

func WithDurationObserver(observer DurationObserver) ClientOption {
	return func(c *Client) {
		c.observeDuration = observer
	}
}

// Client talks to the backend auth API rooted at baseURL, e.g. http://localhost:9000/api/auth
type Client struct {
	baseURL         string
	httpClient      *http.Client
	observeDuration DurationObserver
}

func NewClient(baseURL string, httpClient *http.Client, opts ...ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:         baseURL,
		httpClient:      httpClient,
		observeDuration: func(string, int, time.Duration) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	return c.post(ctx, "login", LoginRequest{
		Email:    email,
		Password: password,
	})
}

func (c *Client) Register(ctx context.Context, email, password, name string) (*AuthResponse, error) {
	return c.post(ctx, "register", RegisterRequest{
		Email:    email,
		Password: password,
		Name:     name,
	})
}

func (c *Client) post(ctx context.Context, endpoint string, reqBody any) (_ *AuthResponse, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "backend."+endpoint)
	defer func() { tracing.EndSpan(span, err) }()

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", endpoint, err)
	}

	url := c.baseURL + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("new %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observeDuration(endpoint, 0, time.Since(start))
		return nil, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.observeDuration(endpoint, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(endpoint, resp.StatusCode, respBytes)
	}

	var payload AuthResponse
	if err := json.Unmarshal(respBytes, &payload); err != nil {
		log.Debugf("backend %s: unparseable success body: %s", endpoint, err)
		return nil, ErrInvalidResponse
	}
	if payload.Token == "" || payload.User == nil {
		log.Debugf("backend %s: success body without token or user", endpoint)
		return nil, ErrInvalidResponse
	}

	return &payload, nil
}

// statusError maps a non-2xx body. Only a body that is not JSON at all is an
// invalid response; any JSON value is accepted and "message" is taken when it
// is a string.
func statusError(endpoint string, statusCode int, body []byte) error {
	statusErr := &StatusError{StatusCode: statusCode}
	if len(bytes.TrimSpace(body)) == 0 {
		return statusErr
	}
	if !json.Valid(body) {
		log.Debugf("backend %s: unparseable body, status %d", endpoint, statusCode)
		return ErrInvalidResponse
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		// a JSON string, array or number carries no message
		return statusErr
	}
	var message string
	if err := json.Unmarshal(fields["message"], &message); err == nil {
		statusErr.Message = message
	}
	return statusErr
}

// StatusLabel is the status code as a metrics label, "error" for transport failures.
func StatusLabel(statusCode int) string {
	if statusCode == 0 {
		return "error"
	}
	return strconv.Itoa(statusCode)
}
