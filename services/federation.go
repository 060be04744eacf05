package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/epressworld/epress-sub000/protocol"
)

// DefaultPeerTimeout bounds every outbound peer call so one unreachable
// node cannot stall the request that triggered the delivery.
const DefaultPeerTimeout = 10 * time.Second

// FederationClient performs outbound calls against peers' protocol
// endpoints. It is tolerant by design: a peer answering "already done" is
// a success, and every call carries a bounded timeout.
type FederationClient struct {
	httpClient *http.Client
}

// NewFederationClient builds a client with the given per-call timeout;
// zero means DefaultPeerTimeout.
func NewFederationClient(timeout time.Duration) *FederationClient {
	if timeout <= 0 {
		timeout = DefaultPeerTimeout
	}
	return &FederationClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ValidatePeerURL checks that raw is a well-formed absolute http(s) URL.
func ValidatePeerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return protocol.Errorf(protocol.CodeInvalidURLFormat, "not a valid http(s) url: %q", raw)
	}
	return nil
}

// FetchProfile retrieves a peer's declared profile from its protocol
// endpoint.
func (c *FederationClient) FetchProfile(ctx context.Context, peerURL string) (*protocol.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peerEndpoint(peerURL, "/protocol/profile"), nil)
	if err != nil {
		return nil, fmt.Errorf("building profile request for %s: %w", peerURL, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching profile from %s: %w", peerURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer %s answered status %d to profile fetch", peerURL, resp.StatusCode)
	}

	var profile protocol.Profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decoding profile from %s: %w", peerURL, err)
	}
	return &profile, nil
}

// PushConnectionCreate delivers a signed follow request to the followee's
// create endpoint. A 409 from the peer means the edge already exists
// there; both sides have converged, so it folds into success.
func (c *FederationClient) PushConnectionCreate(ctx context.Context, peerURL string, signed protocol.SignedRequest[protocol.ConnectionCreation]) error {
	status, err := c.push(ctx, http.MethodPost, peerEndpoint(peerURL, "/protocol/connections"), signed)
	if err != nil {
		return err
	}
	if status == http.StatusCreated || status == http.StatusConflict {
		return nil
	}
	if status == http.StatusForbidden {
		return protocol.Errorf(protocol.CodeFollowDisabled, "peer %s does not accept followers", peerURL)
	}
	return fmt.Errorf("peer %s answered status %d to connection create", peerURL, status)
}

// PushConnectionDelete delivers a signed unfollow to the counterparty's
// delete endpoint. The inbound surface is idempotent, so any 2xx is done.
func (c *FederationClient) PushConnectionDelete(ctx context.Context, peerURL string, signed protocol.SignedRequest[protocol.ConnectionDeletion]) error {
	status, err := c.push(ctx, http.MethodDelete, peerEndpoint(peerURL, "/protocol/connections"), signed)
	if err != nil {
		return err
	}
	if status >= 200 && status < 300 {
		return nil
	}
	return fmt.Errorf("peer %s answered status %d to connection delete", peerURL, status)
}

// PushProfileUpdate delivers a signed profile update to one follower.
func (c *FederationClient) PushProfileUpdate(ctx context.Context, peerURL string, signed protocol.SignedRequest[protocol.ProfileUpdate]) error {
	status, err := c.push(ctx, http.MethodPost, peerEndpoint(peerURL, "/protocol/nodes/updates"), signed)
	if err != nil {
		return err
	}
	if status >= 200 && status < 300 {
		return nil
	}
	return fmt.Errorf("peer %s answered status %d to profile update", peerURL, status)
}

func (c *FederationClient) push(ctx context.Context, method, endpoint string, payload any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding payload for %s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("delivering to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	return resp.StatusCode, nil
}

func peerEndpoint(peerURL, path string) string {
	return strings.TrimRight(peerURL, "/") + path
}
