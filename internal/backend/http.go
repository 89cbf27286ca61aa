// internal/backend/http.go
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cuelab/poolsync/internal/models"
)

const requestTimeout = 10 * time.Second

// HTTPClient implements Client against the platform's REST API. Every
// response is a {data, error} envelope; error is a human-readable string.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logrus.Logger
}

// NewHTTP builds a client rooted at baseURL. token is attached as a bearer
// credential on every request.
func NewHTTP(baseURL, token string, logger *logrus.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

type apiResponse struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// do issues one request and decodes the {data,error} envelope into out.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response %s %s: %w", method, path, err)
	}
	if envelope.Error != "" {
		return &APIError{Message: envelope.Error}
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode data %s %s: %w", method, path, err)
		}
	}
	return nil
}

func (c *HTTPClient) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := c.do(ctx, http.MethodGet, "/rooms/"+roomID.String(), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *HTTPClient) JoinRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := c.do(ctx, http.MethodPost, "/rooms/"+roomID.String()+"/join", nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *HTTPClient) JoinRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	body := map[string]string{"code": code}
	if err := c.do(ctx, http.MethodPost, "/rooms/join-by-code", body, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *HTTPClient) LeaveRoom(ctx context.Context, roomID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+roomID.String()+"/leave", nil, nil)
}

func (c *HTTPClient) CreateMatch(ctx context.Context, roomID uuid.UUID) (*models.Match, error) {
	var match models.Match
	body := map[string]string{"roomId": roomID.String()}
	if err := c.do(ctx, http.MethodPost, "/matches", body, &match); err != nil {
		return nil, err
	}
	return &match, nil
}

func (c *HTTPClient) StartMatch(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	var match models.Match
	if err := c.do(ctx, http.MethodPost, "/matches/"+matchID.String()+"/start", nil, &match); err != nil {
		return nil, err
	}
	return &match, nil
}
