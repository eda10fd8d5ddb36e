package client

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

	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/apperr"
	"github.com/shattavibe/api/internal/config"
	"github.com/shattavibe/api/internal/model"
)

const generatePath = "/api/v1/generate"

// MusicGenerator starts generation jobs at the vendor. Results arrive later
// through the callback URL, never through this interface.
type MusicGenerator interface {
	GenerateMusic(ctx context.Context, req *GenerateMusicRequest) (string, error)
}

// SunoClient implements MusicGenerator for the Suno API
type SunoClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	callbackURL string
	logger      *zap.Logger
}

// GenerateMusicRequest is the simple-mode generate call.
type GenerateMusicRequest struct {
	CustomMode   bool              `json:"customMode"`
	Instrumental bool              `json:"instrumental"`
	Model        model.SunoModel   `json:"model"`
	Prompt       string            `json:"prompt"`
	CallBackURL  string            `json:"callBackUrl"`
	NegativeTags string            `json:"negativeTags,omitempty"`
	VocalGender  model.VocalGender `json:"vocalGender,omitempty"`
}

type generateEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// vendorMessages fills in for an empty msg on known codes.
var vendorMessages = map[int]string{
	400: "invalid parameters",
	401: "unauthorized: check the API key",
	404: "invalid request path",
	405: "rate limit exceeded",
	413: "prompt too long",
	429: "insufficient credits",
	430: "call frequency too high, try again later",
	455: "service under maintenance",
	500: "vendor server error",
}

// VendorMessage returns msg, or the known description of code when msg is empty.
func VendorMessage(code int, msg string) string {
	if msg = strings.TrimSpace(msg); msg != "" {
		return msg
	}
	if m, ok := vendorMessages[code]; ok {
		return m
	}
	return "unknown vendor error"
}

// NewSunoClient creates a new Suno API client
func NewSunoClient(cfg *config.SunoConfig, logger *zap.Logger) *SunoClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SunoClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		callbackURL: cfg.CallbackURL,
		logger:      logger,
	}
}

// GenerateMusic starts a job and returns the vendor task id. Any failure,
// including a non-200 code inside a 2xx response, is a *apperr.VendorRequestError.
func (c *SunoClient) GenerateMusic(ctx context.Context, req *GenerateMusicRequest) (string, error) {
	if req.CallBackURL == "" {
		req.CallBackURL = c.callbackURL
	}
	if req.Model == "" {
		req.Model = model.DefaultModel
	}

	var env generateEnvelope
	if err := c.post(ctx, generatePath, req, &env); err != nil {
		return "", err
	}

	if env.Code != http.StatusOK {
		return "", &apperr.VendorRequestError{Code: env.Code, Message: VendorMessage(env.Code, env.Msg)}
	}
	if env.Data == nil || env.Data.TaskID == "" {
		return "", &apperr.VendorRequestError{Code: env.Code, Message: "response carried no task id"}
	}
	return env.Data.TaskID, nil
}

// post sends a POST request with JSON body
func (c *SunoClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *SunoClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log := c.logger.With(zap.String("method", req.Method), zap.String("url", req.URL.String()))
	log.Debug("suno request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("suno request failed", zap.Error(err))
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &apperr.VendorRequestError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn("suno response unreadable", zap.Error(err))
		return &apperr.VendorRequestError{Code: resp.StatusCode, Message: "failed to read response"}
	}

	log.Debug("suno response", zap.Int("status", resp.StatusCode), zap.ByteString("body", respBody))

	// The vendor reports most failures as {code, msg} regardless of HTTP
	// status, so try the envelope before falling back to the raw body.
	if err := json.Unmarshal(respBody, result); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &apperr.VendorRequestError{Code: resp.StatusCode, Message: VendorMessage(resp.StatusCode, string(respBody))}
		}
		log.Warn("suno response undecodable", zap.Error(err))
		return &apperr.VendorRequestError{Code: resp.StatusCode, Message: "invalid response body"}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if env, ok := result.(*generateEnvelope); ok && env.Code == 0 {
			env.Code = resp.StatusCode
		}
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *SunoClient) IsConfigured() bool {
	return c.apiKey != ""
}
