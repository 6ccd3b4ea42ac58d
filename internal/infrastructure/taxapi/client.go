package taxapi

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

	"taxsync/internal/config"
)

var ErrRemote = errors.New("税务服务调用失败")

// APIError 远端返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("税务服务返回 %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return ErrRemote }

// Client 税务交易接口
type Client interface {
	CreateOrUpdate(ctx context.Context, txn *Transaction) error
	Delete(ctx context.Context, txnType, transactionID string) error
}

// HTTPClient 基于 REST 的实现
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(cfg config.TaxAPIConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

func collectionPath(txnType string) string {
	if txnType == TransactionTypeRefund {
		return "/transactions/refunds"
	}
	return "/transactions/orders"
}

// CreateOrUpdate 先创建，远端提示已存在（422）时改为更新
func (c *HTTPClient) CreateOrUpdate(ctx context.Context, txn *Transaction) error {
	body, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("序列化交易失败: %w", err)
	}

	err = c.do(ctx, http.MethodPost, collectionPath(txn.Type), body)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
		return c.do(ctx, http.MethodPut, collectionPath(txn.Type)+"/"+txn.TransactionID, body)
	}
	return err
}

// Delete 删除远端交易，404 视为已删除
func (c *HTTPClient) Delete(ctx context.Context, txnType, transactionID string) error {
	err := c.do(ctx, http.MethodDelete, collectionPath(txnType)+"/"+transactionID, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &APIError{StatusCode: resp.StatusCode, Body: string(msg)}
}
