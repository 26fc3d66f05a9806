//go:build chaos

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

type toxiproxyClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

type proxy struct {
	Name     string `json:"name"`
	Listen   string `json:"listen"`
	Upstream string `json:"upstream"`
	Enabled  bool   `json:"enabled"`
}

type toxic struct {
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Stream     string                 `json:"stream"`
	Toxicity   float32                `json:"toxicity"`
	Attributes map[string]interface{} `json:"attributes"`
}

func newToxiproxyClient(baseURL string) *toxiproxyClient {
	return &toxiproxyClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *toxiproxyClient) post(path string, v interface{}) ([]byte, int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.HTTPClient.Post(c.BaseURL+path, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return body, resp.StatusCode, err
}

func (c *toxiproxyClient) createProxy(name, listen, upstream string) (*proxy, error) {
	body, code, err := c.post("/proxies", &proxy{Name: name, Listen: listen, Upstream: upstream, Enabled: true})
	if err != nil {
		return nil, errors.Wrap(err, "create proxy")
	}
	if code != http.StatusCreated {
		return nil, errors.Errorf("failed to create proxy (status %d): %s", code, body)
	}

	var created proxy
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, errors.Wrapf(err, "parse created proxy %s", body)
	}
	return &created, nil
}

func (c *toxiproxyClient) addToxic(proxyName string, t *toxic) error {
	body, code, err := c.post(fmt.Sprintf("/proxies/%s/toxics", proxyName), t)
	if err != nil {
		return errors.Wrap(err, "add toxic")
	}
	if code != http.StatusCreated && code != http.StatusOK {
		return errors.Errorf("failed to add toxic to proxy %s (status %d): %s", proxyName, code, body)
	}
	return nil
}

func (c *toxiproxyClient) deleteProxy(name string) error {
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/proxies/%s", c.BaseURL, name), nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return errors.Errorf("failed to delete proxy %s: %s", name, body)
	}
	return nil
}

// chaosTestHelper puts a toxiproxy in front of every node.
type chaosTestHelper struct {
	client  *toxiproxyClient
	proxies map[string]*proxy // by proxy listen address
}

func newChaosTestHelper(toxiproxyURL string) *chaosTestHelper {
	return &chaosTestHelper{
		client:  newToxiproxyClient(toxiproxyURL),
		proxies: make(map[string]*proxy),
	}
}

// advertise creates a proxy for a node listening on listen and returns the
// proxy address, which goes into the genesis instead.
func (h *chaosTestHelper) advertise(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	failfast(err)
	p, err := strconv.Atoi(port)
	failfast(err)

	proxyAddr := net.JoinHostPort(host, strconv.Itoa(p+10000))
	created, err := h.client.createProxy(fmt.Sprintf("node_%d", p), proxyAddr, listen)
	failfast(err)
	h.proxies[proxyAddr] = created
	return proxyAddr
}

func (h *chaosTestHelper) poison(nodeAddr string, t *toxic) error {
	p, ok := h.proxies[nodeAddr]
	if !ok {
		return errors.Errorf("proxy not found for address %s", nodeAddr)
	}
	t.Name = t.Type + "_" + p.Name
	t.Stream = "downstream"
	t.Toxicity = 1.0
	return h.client.addToxic(p.Name, t)
}

// addResetPeer simulates TCP RESET after optional timeout
func (h *chaosTestHelper) addResetPeer(nodeAddr string, timeout time.Duration) error {
	return h.poison(nodeAddr, &toxic{Type: "reset_peer", Attributes: map[string]interface{}{
		"timeout": int(timeout.Milliseconds()),
	}})
}

// addLatency delays every reply of the node
func (h *chaosTestHelper) addLatency(nodeAddr string, latency time.Duration) error {
	return h.poison(nodeAddr, &toxic{Type: "latency", Attributes: map[string]interface{}{
		"latency": int(latency.Milliseconds()),
		"jitter":  0,
	}})
}

// addDataLimit closes connection after transmitting specified bytes
func (h *chaosTestHelper) addDataLimit(nodeAddr string, bytes int) error {
	return h.poison(nodeAddr, &toxic{Type: "limit_data", Attributes: map[string]interface{}{
		"bytes": bytes,
	}})
}

func (h *chaosTestHelper) cleanup() error {
	for _, p := range h.proxies {
		if err := h.client.deleteProxy(p.Name); err != nil {
			return err
		}
	}
	h.proxies = make(map[string]*proxy)
	return nil
}
