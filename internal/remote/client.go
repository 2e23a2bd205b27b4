package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"

	"picking-sync-backend/config"
	"picking-sync-backend/internal/claim"
	"picking-sync-backend/internal/model"
)

// Header names shared with the coordination service.
const (
	HeaderAPIKey      = "X-API-Key"
	HeaderWorkerID    = "X-Worker-ID"
	HeaderDeviceID    = "X-Device-ID"
	HeaderOperationID = "X-Operation-ID"
)

// Client talks to the coordination service on behalf of one device. Every
// call has a bounded timeout; a timeout surfaces as a retryable
// TransportError, never a permanent one.
type Client struct {
	baseURL  string
	apiKey   string
	deviceID string
	client   *http.Client
}

// NewClient creates a coordination service client.
func NewClient(cfg *config.RemoteConfig, deviceID string) *Client {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Printf("Warning: Invalid proxy URL %q: %v. Client will not use a proxy.", cfg.HTTPProxy, err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		deviceID: deviceID,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}
}

type errorBody struct {
	Error    string `json:"error"`
	Holder   string `json:"holder"`
	Expected int    `json:"expected"`
	Message  string `json:"message"`
}

// do issues one request and decodes the response into out (when non-nil).
// extraHeaders lets callers attach operation ids and cache directives.
func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAPIKey, c.apiKey)
	req.Header.Set(HeaderDeviceID, c.deviceID)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Err: err}
	}

	if resp.StatusCode >= 400 {
		var eb errorBody
		if err := json.Unmarshal(raw, &eb); err != nil || eb.Error == "" {
			eb.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{
			Status:   resp.StatusCode,
			Kind:     eb.Error,
			Holder:   eb.Holder,
			Expected: eb.Expected,
			Message:  eb.Message,
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// Ping probes reachability of the coordination service.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/healthz", nil, nil, nil)
}

// Connect validates store credentials and returns the store identity.
func (c *Client) Connect(ctx context.Context) (string, error) {
	var out struct {
		Store string `json:"store"`
	}
	err := c.do(ctx, http.MethodPost, "/api/connect", nil, map[string]string{"api_key": c.apiKey}, &out)
	if err != nil {
		return "", err
	}
	return out.Store, nil
}

// GetOrder fetches the authoritative order snapshot. With fresh set the
// server-side response cache is bypassed.
func (c *Client) GetOrder(ctx context.Context, orderID string, fresh bool) (*model.Order, error) {
	headers := map[string]string{}
	if fresh {
		headers["Cache-Control"] = "no-cache"
	}
	var order model.Order
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+orderID, headers, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// AcquireClaim requests exclusive ownership of the order.
func (c *Client) AcquireClaim(ctx context.Context, orderID, workerID string) (*model.Order, error) {
	var order model.Order
	err := c.do(ctx, http.MethodPost, "/api/orders/"+orderID+"/claim",
		map[string]string{HeaderWorkerID: workerID},
		map[string]string{"worker": workerID}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ContinueClaim confirms the caller still holds the claim.
func (c *Client) ContinueClaim(ctx context.Context, orderID, workerID string) (*model.Order, error) {
	var order model.Order
	err := c.do(ctx, http.MethodPost, "/api/orders/"+orderID+"/claim/continue",
		map[string]string{HeaderWorkerID: workerID},
		map[string]string{"worker": workerID}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CompleteOrder marks the order picked. The service rejects completion
// without recorded evidence.
func (c *Client) CompleteOrder(ctx context.Context, orderID, workerID, opID string) error {
	headers := map[string]string{HeaderWorkerID: workerID}
	if opID != "" {
		headers[HeaderOperationID] = opID
	}
	return c.do(ctx, http.MethodPost, "/api/orders/"+orderID+"/complete", headers,
		map[string]string{"worker": workerID}, nil)
}

// ReleaseClaim gives the claim up with a reason.
func (c *Client) ReleaseClaim(ctx context.Context, orderID, workerID string, reason claim.ExitReason) error {
	return c.do(ctx, http.MethodPost, "/api/orders/"+orderID+"/release",
		map[string]string{HeaderWorkerID: workerID},
		map[string]any{"worker": workerID, "reason_code": string(reason.Code), "reason_text": reason.Text}, nil)
}

// UploadEvidence stores an evidence artifact for the order.
func (c *Client) UploadEvidence(ctx context.Context, orderID, workerID string, blob []byte, kind model.EvidenceKind) (*model.Evidence, error) {
	var evidence model.Evidence
	err := c.do(ctx, http.MethodPost, "/api/orders/"+orderID+"/evidence",
		map[string]string{HeaderWorkerID: workerID},
		map[string]any{"worker": workerID, "kind": string(kind), "blob": base64.StdEncoding.EncodeToString(blob)},
		&evidence)
	if err != nil {
		return nil, err
	}
	return &evidence, nil
}

// Deliver replays a queued operation verbatim, carrying its stable
// operation id so the service deduplicates transport-level retries.
func (c *Client) Deliver(ctx context.Context, op model.PendingOperation) error {
	var payload any
	if len(op.Payload) > 0 {
		payload = json.RawMessage(op.Payload)
	}
	headers := map[string]string{HeaderOperationID: op.ID}
	return c.do(ctx, op.Method, op.Target, headers, payload, nil)
}

// ReportDeadLetter reports a permanently failed operation for operator
// inspection and supervisor alerting. Best effort; the local dead-letter
// set is authoritative on the device.
func (c *Client) ReportDeadLetter(ctx context.Context, letter model.DeadLetter) error {
	return c.do(ctx, http.MethodPost, "/api/dead-letters", nil, map[string]any{
		"op_id":    letter.OpID,
		"method":   letter.Method,
		"target":   letter.Target,
		"payload":  letter.Payload,
		"order_id": letter.OrderID,
		"worker":   letter.WorkerID,
		"device":   letter.DeviceID,
		"attempts": letter.Attempts,
		"cause":    letter.Cause,
	}, nil)
}
