package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/google/uuid"
)

// Response は HTTP レスポンスのステータスとボディです。
type Response struct {
	StatusCode int
	Body       []byte
}

// OK は 2xx かどうかを返します。
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// HTTPClient は HTTPリクエストを送信するためのクライアントです。
// クッキージャーを持ち、ログインで受け取った認証クッキーを以降のリクエストに付与します。
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient は新しいHTTPClientを生成します。
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	jar, _ := cookiejar.New(nil)
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
	}
}

// Client は内部の http.Client を返します。WebSocket のダイヤルでクッキーを共有するために使います。
func (c *HTTPClient) Client() *http.Client {
	return c.client
}

// Do はリクエストを送信し、ステータスに関係なくボディを返します。
func (c *HTTPClient) Do(ctx context.Context, method, url string, headers map[string]string, body io.Reader) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Response{}, fmt.Errorf("build %s %s: %w", method, url, err)
	}

	req.Header.Set("X-Request-Id", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read %s %s: %w", method, url, err)
	}
	return Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// Get はGETリクエストを送信します。
func (c *HTTPClient) Get(ctx context.Context, url string, headers map[string]string) (Response, error) {
	return c.Do(ctx, http.MethodGet, url, headers, nil)
}

// Post はPOSTリクエストを送信します。
func (c *HTTPClient) Post(ctx context.Context, url string, headers map[string]string, body io.Reader) (Response, error) {
	return c.Do(ctx, http.MethodPost, url, headers, body)
}

// Patch はPATCHリクエストを送信します。
func (c *HTTPClient) Patch(ctx context.Context, url string, headers map[string]string, body io.Reader) (Response, error) {
	return c.Do(ctx, http.MethodPatch, url, headers, body)
}

// Delete はDELETEリクエストを送信します。
func (c *HTTPClient) Delete(ctx context.Context, url string, headers map[string]string) (Response, error) {
	return c.Do(ctx, http.MethodDelete, url, headers, nil)
}
