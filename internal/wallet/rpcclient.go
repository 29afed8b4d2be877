package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

// NodeClient is the CLI's JSON-RPC caller, a leaner sibling of
// internal/rpc.Client scoped to what a wallet needs: positional
// params in, a single JSON result out.
type NodeClient struct {
	Addr string
	HTTP *http.Client
}

func NewNodeClient(addr string) *NodeClient {
	return &NodeClient{Addr: addr, HTTP: &http.Client{Timeout: 30 * time.Second}}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call invokes method on the node and decodes the result into out
// (pass a pointer, or nil to discard it).
func (c *NodeClient) Call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return volterr.Wrap(volterr.KindSerialization, "encode rpc request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Addr+"/rpc", bytes.NewReader(body))
	if err != nil {
		return volterr.Wrap(volterr.KindNetwork, "build rpc request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return volterr.Wrap(volterr.KindNetwork, "call "+method, err)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return volterr.Wrap(volterr.KindSerialization, "decode rpc response", err)
	}
	if decoded.Error != nil {
		return volterr.Newf(volterr.KindNetwork, "node rejected %s: %s", method, decoded.Error.Message)
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return volterr.Wrap(volterr.KindSerialization, "decode "+method+" result", err)
	}
	return nil
}
