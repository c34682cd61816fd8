// Package api is the HTTP gateway to the claims service.
//
// Reads and writes follow different failure policies. A read answered with
// 401 or 404 (or a body carrying error.statusCode 404) is an empty result,
// not an error. A write surfaces the server's message as-is. Nothing is
// retried.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const HeaderRequestID = "X-Request-ID"

// TokenSource yields the bearer token of the live session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client claims service client
type Client struct {
	httpClient *resty.Client
	tokens     TokenSource
	logger     *zap.Logger
}

// NewClient creates a client for baseURL. tokens may be nil when only
// unauthenticated endpoints are used.
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetLogger(logger.Sugar()).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if r.Header.Get(HeaderRequestID) == "" {
			r.SetHeader(HeaderRequestID, uuid.NewString())
		}
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		logger.Debug("API call",
			zap.String("method", resp.Request.Method),
			zap.String("url", resp.Request.URL),
			zap.Int("status_code", resp.StatusCode()),
			zap.Duration("duration", resp.Time()),
			zap.String("request_id", resp.Request.Header.Get(HeaderRequestID)),
		)
		return nil
	})

	return &Client{
		httpClient: client,
		tokens:     tokens,
		logger:     logger,
	}
}

// authorize attaches the bearer token. Without a live session the call is
// refused locally as AuthExpired.
func (c *Client) authorize(ctx context.Context, r *resty.Request) error {
	if c.tokens == nil {
		return &Error{Kind: AuthExpired, Message: MsgSessionExpired}
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return &Error{Kind: AuthExpired, Message: MsgSessionExpired, Err: err}
	}
	r.SetAuthToken(tok)
	return nil
}

// read GETs path into out. found is false for the empty outcomes.
func (c *Client) read(ctx context.Context, path string, pathParams map[string]string, auth bool, out any) (found bool, err error) {
	req := c.httpClient.R().SetContext(ctx).SetPathParams(pathParams)
	if auth {
		if err := c.authorize(ctx, req); err != nil {
			return false, err
		}
	}

	resp, err := req.Get(path)
	if err != nil {
		c.logger.Warn("API read failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return false, &Error{Kind: NetworkUnavailable, Message: MsgNetworkError, Err: err}
	}

	status := resp.StatusCode()
	body := resp.Body()

	if status == http.StatusUnauthorized || status == http.StatusNotFound {
		c.logger.Debug("API read returned empty",
			zap.String("path", path),
			zap.Int("status_code", status),
		)
		return false, nil
	}
	if status != http.StatusOK && embeddedStatus(body) == http.StatusNotFound {
		return false, nil
	}
	if !resp.IsSuccess() {
		msg := serverMessage(body)
		if msg == "" {
			msg = MsgNetworkError
		}
		c.logger.Warn("API read rejected",
			zap.String("path", path),
			zap.Int("status_code", status),
			zap.String("msg", msg),
		)
		return false, &Error{Kind: RemoteRejected, StatusCode: status, Message: msg}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		c.logger.Error("Failed to unmarshal API response",
			zap.String("path", path),
			zap.Error(err),
		)
		return false, &Error{Kind: RemoteRejected, StatusCode: status, Message: "unexpected response from server", Err: err}
	}
	return true, nil
}

// write sends a mutating request. Non-2xx surfaces the server message.
func (c *Client) write(ctx context.Context, method, path string, pathParams map[string]string, auth bool, prepare func(*resty.Request)) (*resty.Response, error) {
	req := c.httpClient.R().SetContext(ctx).SetPathParams(pathParams)
	if auth {
		if err := c.authorize(ctx, req); err != nil {
			return nil, err
		}
	}
	if prepare != nil {
		prepare(req)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Error("API write failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, &Error{Kind: NetworkUnavailable, Message: MsgSomethingWrong, Err: err}
	}

	if !resp.IsSuccess() {
		msg := serverMessage(resp.Body())
		if msg == "" {
			msg = MsgSomethingWrong
		}
		c.logger.Warn("API write rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", msg),
		)
		return nil, &Error{Kind: RemoteRejected, StatusCode: resp.StatusCode(), Message: msg}
	}
	return resp, nil
}

// errorBody error shapes the service emits: {"message": ...} and
// {"error": {"statusCode": ..., "message": ...}}.
type errorBody struct {
	Message string `json:"message"`
	Error   *struct {
		StatusCode int    `json:"statusCode"`
		Message    string `json:"message"`
	} `json:"error"`
}

func parseErrorBody(body []byte) errorBody {
	var eb errorBody
	if len(bytes.TrimSpace(body)) == 0 {
		return eb
	}
	// not every body is an object; a failed parse just means no message
	_ = json.Unmarshal(body, &eb)
	return eb
}

func serverMessage(body []byte) string {
	eb := parseErrorBody(body)
	if eb.Message != "" {
		return eb.Message
	}
	if eb.Error != nil {
		return eb.Error.Message
	}
	return ""
}

func embeddedStatus(body []byte) int {
	if eb := parseErrorBody(body); eb.Error != nil {
		return eb.Error.StatusCode
	}
	return 0
}
