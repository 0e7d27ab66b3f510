// Package exchange holds the JSON-RPC 2.0 envelope shared by the Session
// Manager, Order Manager, and Execution Worker, plus the shared REST client
// constructor. All three REST callers share one *resty.Client so
// retry policy, timeouts, and base URL are configured in exactly one
// place, the way the teacher's internal/exchange/client.go constructs a
// single resty client for every CLOB endpoint.
package exchange

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Sonugupta2001/trading-gateway/internal/config"
)

// Request is the upstream JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// Response is the upstream JSON-RPC 2.0 response envelope. Exactly one of
// Result/Error is populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is the upstream error object carried in Response.Error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// idCounter hands out strictly increasing JSON-RPC ids, unique per REST
// request across the Session, Order Manager, and Execution Worker. Each
// request is its own HTTP exchange, so callers read that exchange's
// response and do not compare the response id.
var idCounter atomic.Int64

// NextID returns the next monotonically increasing JSON-RPC request id.
func NextID() int64 {
	return idCounter.Add(1)
}

// NewRequest builds a JSON-RPC 2.0 request envelope with a fresh id.
func NewRequest(method string, params interface{}) Request {
	return Request{JSONRPC: "2.0", ID: NextID(), Method: method, Params: params}
}

// NewHTTPClient builds the shared resty client used by every REST caller:
// base URL, timeout, and a retry-on-5xx policy, grounded on the teacher's
// internal/exchange/client.go construction.
func NewHTTPClient(cfg config.ExchangeConfig) *resty.Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return resty.New().
		SetBaseURL(cfg.RESTBaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
}
