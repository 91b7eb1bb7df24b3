package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/valyala/fastjson"

	"mt5-bot/internal/common"
)

const (
	initializePath = "/api/v1/terminal/initialize"
	symbolPath     = "/api/v1/symbols/configure"
	shutdownPath   = "/api/v1/terminal/shutdown"
)

// BridgeClient talks to an MT5 REST bridge running next to the terminal.
// Every request is signed with the bridge secret; see Sign.
type BridgeClient struct {
	key, secret, base string
	rest              *resty.Client
}

func NewBridge(key, secret, base string, timeout time.Duration) *BridgeClient {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(common.DefaultBridgeTimeout * time.Second)
	}
	return &BridgeClient{key, secret, strings.TrimRight(base, "/"), r}
}

type sessionReq struct {
	Login    int    `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
	Timeout  int64  `json:"timeout"` // milliseconds
	Path     string `json:"path,omitempty"`
}

type symbolReq struct {
	Symbol     string  `json:"symbol"`
	Spread     int     `json:"spread"`
	SwapLong   float64 `json:"swap_long"`
	SwapShort  float64 `json:"swap_short"`
	MarginRate float64 `json:"margin_rate"`
}

// BridgeError is a request the bridge or terminal refused.
type BridgeError struct {
	Status  int
	Code    int
	Comment string
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("bridge: status %d retcode %d: %s", e.Status, e.Code, e.Comment)
}

// Initialize logs the terminal into the account. The session timeout bounds
// the whole request.
func (c *BridgeClient) Initialize(ctx context.Context, s Session) error {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	return c.post(ctx, initializePath, sessionReq{
		Login:    s.Account,
		Password: s.Password,
		Server:   s.Server,
		Timeout:  s.Timeout.Milliseconds(),
		Path:     s.Path,
	})
}

func (c *BridgeClient) ConfigureSymbol(ctx context.Context, spec SymbolSpec) error {
	return c.post(ctx, symbolPath, symbolReq{
		Symbol:     spec.Name,
		Spread:     spec.SpreadPoints,
		SwapLong:   spec.SwapLong,
		SwapShort:  spec.SwapShort,
		MarginRate: spec.MarginRate,
	})
}

func (c *BridgeClient) Shutdown(ctx context.Context) error {
	return c.post(ctx, shutdownPath, struct{}{})
}

func (c *BridgeClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sign := Sign(c.secret, ts, http.MethodPost, path, body)

	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("api-key", c.key).
		SetHeader("timestamp", ts).
		SetHeader("sign", sign).
		SetBody(body).
		Post(c.base + path)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	return parseResponse(resp.StatusCode(), resp.Body())
}

// parseResponse interprets the bridge envelope {"retcode": 0, "comment": "..."}.
func parseResponse(status int, body []byte) error {
	v, err := fastjson.ParseBytes(body)
	if err != nil {
		if status >= http.StatusMultipleChoices {
			return &BridgeError{Status: status, Comment: strings.TrimSpace(string(body))}
		}
		return fmt.Errorf("bridge: malformed response: %w", err)
	}

	code := v.GetInt("retcode")
	if status >= http.StatusMultipleChoices || code != 0 {
		return &BridgeError{Status: status, Code: code, Comment: string(v.GetStringBytes("comment"))}
	}
	return nil
}
