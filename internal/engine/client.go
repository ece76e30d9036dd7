// Package engine wraps the official OpenSearch Go client with the small,
// typed surface this project needs: cluster administration, ML model
// lifecycle, ingest pipeline and index provisioning, bulk document writes,
// and k-NN queries. All vector indexing and embedding inference happens
// inside the engine — this package only speaks its REST API.
package engine

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Config holds connection parameters for an OpenSearch cluster.
type Config struct {
	// Host is the OpenSearch host address (default: localhost).
	Host string

	// Port is the OpenSearch REST port (default: 9200).
	Port int

	// Username and Password are basic-auth credentials. Both empty when
	// the cluster runs with security disabled.
	Username string
	Password string

	// TLS connects over https with standard certificate verification.
	TLS bool

	// Insecure skips TLS certificate verification. Implies TLS; only for
	// local clusters presenting self-signed certificates.
	Insecure bool

	// Timeout is the per-request timeout passed to the HTTP transport.
	// Defaults to 30s if zero.
	Timeout time.Duration
}

// Client is a thin wrapper over the opensearch-go client.
type Client struct {
	// os is the underlying OpenSearch API client.
	os *opensearch.Client

	// cfg holds the resolved configuration for this client.
	cfg *Config
}

// New constructs a Client from the given config. It does not contact the
// cluster — call Ping to verify connectivity.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 9200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{endpoint(cfg)},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: newTransport(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("engine: failed to create client: %w", err)
	}

	return &Client{os: osClient, cfg: cfg}, nil
}

// endpoint returns the cluster base URL. Either TLS or Insecure selects
// https; only Insecure disables certificate verification.
func endpoint(cfg *Config) string {
	scheme := "http"
	if cfg.TLS || cfg.Insecure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)
}

// newTransport builds the HTTP transport for the configured timeout and
// verification mode.
func newTransport(cfg *Config) *http.Transport {
	transport := &http.Transport{
		ResponseHeaderTimeout: cfg.Timeout,
	}
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // local dev clusters only
	}
	return transport
}

// Ping checks whether the cluster is reachable.
// Returns ErrUnreachable-wrapped errors on connectivity failure.
func (c *Client) Ping(ctx context.Context) error {
	req := opensearchapi.PingRequest{}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return unreachable(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("engine: ping returned status %d", res.StatusCode)
	}
	return nil
}

// ClusterInfo describes the cluster identity reported by GET /.
type ClusterInfo struct {
	// ClusterName is the configured cluster name.
	ClusterName string `json:"cluster_name"`
	// Version holds the engine version block.
	Version struct {
		// Number is the engine version string (e.g. "2.11.0").
		Number string `json:"number"`
	} `json:"version"`
}

// Info fetches the cluster name and version.
func (c *Client) Info(ctx context.Context) (*ClusterInfo, error) {
	req := opensearchapi.InfoRequest{}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return nil, unreachable(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("engine: info returned status %d", res.StatusCode)
	}

	var info ClusterInfo
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("engine: decode info response: %w", err)
	}
	return &info, nil
}

// Name returns the dependency label used in readiness responses.
func (c *Client) Name() string { return "opensearch" }
