package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GetHeader returns the best block header.
func (c *Client) GetHeader(ctx context.Context) (*Header, error) {
	result, err := c.call(ctx, "chain_getHeader", nil)
	if err != nil {
		return nil, fmt.Errorf("chain_getHeader: %w", err)
	}
	if string(result) == "null" {
		return nil, fmt.Errorf("chain_getHeader: empty header")
	}

	var header Header
	if err := json.Unmarshal(result, &header); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}
	return &header, nil
}

func (c *Client) GetBlockNumber(ctx context.Context) (int64, error) {
	header, err := c.GetHeader(ctx)
	if err != nil {
		return 0, err
	}
	blockNumber, err := ParseHexInt64(header.Number)
	if err != nil {
		return 0, fmt.Errorf("parse block number: %w", err)
	}
	return blockNumber, nil
}

// SubmitExtrinsic broadcasts a signed, SCALE-encoded extrinsic and returns
// its hash. It does not wait for inclusion.
func (c *Client) SubmitExtrinsic(ctx context.Context, encoded string) (string, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return "", fmt.Errorf("author_submitExtrinsic: empty extrinsic")
	}
	if !strings.HasPrefix(encoded, "0x") {
		encoded = "0x" + encoded
	}

	result, err := c.call(ctx, "author_submitExtrinsic", []interface{}{encoded})
	if err != nil {
		return "", fmt.Errorf("author_submitExtrinsic: %w", err)
	}

	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", fmt.Errorf("unmarshal extrinsic hash: %w", err)
	}
	return hash, nil
}

func ParseHexInt64(value string) (int64, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return 0, fmt.Errorf("empty hex value")
	}
	raw = strings.TrimPrefix(strings.ToLower(raw), "0x")
	if raw == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseUint(raw, 16, 63)
	if err != nil {
		return 0, fmt.Errorf("parse hex %q: %w", value, err)
	}
	return int64(parsed), nil
}
