package rpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(handler func(*http.Request) (*http.Response, error)) *Client {
	client := NewClient("http://subtensor.local", slog.Default())
	client.httpClient = &http.Client{
		Transport: roundTripFunc(handler),
	}
	return client
}

func jsonHTTPResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func resultHandler(t *testing.T, wantMethod string, result string) func(*http.Request) (*http.Response, error) {
	return func(r *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req Request
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, wantMethod, req.Method)

		rawResp, err := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(result)})
		require.NoError(t, err)
		return jsonHTTPResponse(http.StatusOK, string(rawResp)), nil
	}
}

func TestCall_Success(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req Request
		require.NoError(t, json.Unmarshal(body, &req))

		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "system_health", req.Method)
		assert.NotNil(t, req.Params)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		rawResp, err := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"peers":3}`)})
		require.NoError(t, err)
		return jsonHTTPResponse(http.StatusOK, string(rawResp)), nil
	})

	result, err := client.call(context.Background(), "system_health", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"peers":3}`, string(result))
}

func TestCall_RPCError(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		rawResp, err := json.Marshal(Response{
			JSONRPC: "2.0",
			ID:      1,
			Error:   &RPCError{Code: 1010, Message: "Invalid Transaction", Data: "Transaction is outdated"},
		})
		require.NoError(t, err)
		return jsonHTTPResponse(http.StatusOK, string(rawResp)), nil
	})

	_, err := client.call(context.Background(), "author_submitExtrinsic", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Transaction: Transaction is outdated")

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 1010, rpcErr.Code)
}

func TestCall_HTTPError(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return jsonHTTPResponse(http.StatusBadGateway, "bad gateway"), nil
	})

	_, err := client.call(context.Background(), "chain_getHeader", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http status 502")
}

func TestGetBlockNumber(t *testing.T) {
	client := newTestClient(resultHandler(t, "chain_getHeader", `{"number":"0x2a","parentHash":"0x01"}`))

	block, err := client.GetBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), block)
}

func TestGetBlockNumber_NullHeader(t *testing.T) {
	client := newTestClient(resultHandler(t, "chain_getHeader", `null`))

	_, err := client.GetBlockNumber(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty header")
}

func TestSubmitExtrinsic(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req Request
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "author_submitExtrinsic", req.Method)
		require.Len(t, req.Params, 1)
		assert.Equal(t, "0xdeadbeef", req.Params[0])

		rawResp, err := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`"0xabc"`)})
		require.NoError(t, err)
		return jsonHTTPResponse(http.StatusOK, string(rawResp)), nil
	})

	hash, err := client.SubmitExtrinsic(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", hash)

	_, err = client.SubmitExtrinsic(context.Background(), "  ")
	require.Error(t, err)
}

func TestParseHexInt64(t *testing.T) {
	value, err := ParseHexInt64("0x2a")
	require.NoError(t, err)
	assert.Equal(t, int64(42), value)

	zero, err := ParseHexInt64("0x")
	require.NoError(t, err)
	assert.Zero(t, zero)

	_, err = ParseHexInt64("nope")
	require.Error(t, err)

	_, err = ParseHexInt64("")
	require.Error(t, err)
}
