package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kindlyrobotics/voltnetwork/internal/gossip"
	"github.com/kindlyrobotics/voltnetwork/internal/volterr"
)

// Client is a minimal JSON-RPC 2.0 HTTP client used to call another
// node's /rpc endpoint, satisfying gossip.PeerFetcher so Syncer can
// pull get_full_state snapshots from bootstrap peers over the wire.
type Client struct {
	HTTP *http.Client
}

func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: gossip.SyncFetchTimeout}}
}

// FetchFullState calls get_full_state on peerAddr (a base URL such as
// "http://peer-host:8080") and decodes the result.
func (c *Client) FetchFullState(ctx context.Context, peerAddr string) (gossip.FullStateSnapshot, error) {
	var out gossip.FullStateSnapshot
	result, err := c.call(ctx, peerAddr, "get_full_state", nil)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return out, volterr.Wrap(volterr.KindSerialization, "decode get_full_state result", err)
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, addr, method string, params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	reqBody, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: mustMarshal(params), ID: json.RawMessage("1")})
	if err != nil {
		return nil, volterr.Wrap(volterr.KindSerialization, "encode rpc request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/rpc", bytes.NewReader(reqBody))
	if err != nil {
		return nil, volterr.Wrap(volterr.KindNetwork, "build rpc request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, volterr.Wrap(volterr.KindNetwork, fmt.Sprintf("call %s", method), err)
	}
	defer resp.Body.Close()

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, volterr.Wrap(volterr.KindSerialization, "decode rpc response", err)
	}
	if decoded.Error != nil {
		return nil, volterr.Newf(volterr.KindNetwork, "peer rpc error calling %s: %s", method, decoded.Error.Message)
	}
	raw, err := json.Marshal(decoded.Result)
	if err != nil {
		return nil, volterr.Wrap(volterr.KindSerialization, "re-encode rpc result", err)
	}
	return raw, nil
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("[]")
	}
	return b
}

var _ gossip.PeerFetcher = (*Client)(nil)
