package subtensor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
)

// SetWeightsCall is the unsigned payload of a set_weights extrinsic.
type SetWeightsCall struct {
	Hotkey     string   `json:"hotkey"`
	NetUID     uint16   `json:"netuid"`
	UIDs       []uint16 `json:"uids"`
	Weights    []uint16 `json:"weights"`
	VersionKey uint64   `json:"version_key"`
}

// ExtrinsicSigner turns a call into a signed, hex-encoded extrinsic. Key
// material never enters this process.
type ExtrinsicSigner interface {
	SignSetWeights(ctx context.Context, call SetWeightsCall) (string, error)
}

// RegistrationChecker looks up the uid a hotkey holds on a subnet. The
// wallet service answers this since it already tracks the hotkey.
type RegistrationChecker interface {
	HotkeyUID(ctx context.Context, hotkey string, netuid model.NetUID) (model.UID, bool, error)
}

// HTTPSigner delegates signing to a wallet service over HTTP.
type HTTPSigner struct {
	httpClient *http.Client
	baseURL    string
}

var (
	_ ExtrinsicSigner     = (*HTTPSigner)(nil)
	_ RegistrationChecker = (*HTTPSigner)(nil)
)

func NewHTTPSigner(baseURL string, timeout time.Duration) *HTTPSigner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSigner{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type signResponse struct {
	Extrinsic string `json:"extrinsic"`
	Error     string `json:"error,omitempty"`
}

func (s *HTTPSigner) SignSetWeights(ctx context.Context, call SetWeightsCall) (string, error) {
	body, err := json.Marshal(call)
	if err != nil {
		return "", fmt.Errorf("marshal set_weights call: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/sign/set_weights", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read sign response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signer http status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out signResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("unmarshal sign response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("signer: %s", out.Error)
	}
	if out.Extrinsic == "" {
		return "", fmt.Errorf("signer returned empty extrinsic")
	}
	return out.Extrinsic, nil
}

type registrationResponse struct {
	Registered bool   `json:"registered"`
	UID        int    `json:"uid"`
	Error      string `json:"error,omitempty"`
}

func (s *HTTPSigner) HotkeyUID(ctx context.Context, hotkey string, netuid model.NetUID) (model.UID, bool, error) {
	q := url.Values{}
	q.Set("hotkey", hotkey)
	q.Set("netuid", strconv.Itoa(int(netuid)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/registration?"+q.Encode(), nil)
	if err != nil {
		return 0, false, fmt.Errorf("create registration request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("registration request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, false, fmt.Errorf("read registration response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("signer http status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out registrationResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, false, fmt.Errorf("unmarshal registration response: %w", err)
	}
	if out.Error != "" {
		return 0, false, fmt.Errorf("signer: %s", out.Error)
	}
	if !out.Registered {
		return 0, false, nil
	}
	if out.UID < 0 || out.UID >= model.PoolSize {
		return 0, false, fmt.Errorf("signer returned uid %d outside the pool", out.UID)
	}
	return model.UID(out.UID), true, nil
}

func newSetWeightsCall(hotkey string, netuid model.NetUID, uids, values []uint16, versionKey uint64) SetWeightsCall {
	return SetWeightsCall{
		Hotkey:     hotkey,
		NetUID:     uint16(netuid),
		UIDs:       uids,
		Weights:    values,
		VersionKey: versionKey,
	}
}
