// Package huectl is the HTTPS control-plane client for a hub's local
// REST surface (spec §4.4). It follows the same GET/PUT-over-makeRequest
// shape as the teacher's hue.HueAPIService, generalized from a
// viper-configured single bridge to a per-hub client and extended with
// the strict-then-insecure-fallback TLS policy from spec §9.
package huectl

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/hueartnet/bridge/internal/bridgeerr"
)

// Client talks to one hub's local REST API.
type Client struct {
	logger *log.Logger
	host   string
	appKey string

	strict   *http.Client
	insecure *http.Client

	// triedInsecure remembers whether the insecure fallback has already
	// been used once for this client, per the §9 "retry-once" policy.
	triedInsecure bool
}

func New(logger *log.Logger, host string, appKey string) *Client {
	return &Client{
		logger: logger,
		host:   host,
		appKey: appKey,
		strict: &http.Client{},
		insecure: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// EntertainmentConfiguration is one entry returned by
// ListEntertainmentConfigurations (spec §4.4).
type EntertainmentConfiguration struct {
	ID         string
	Name       string
	ChannelIDs []int
}

// ResolveApplicationID discovers the DTLS PSK identity via the
// hue-application-id response header, falling back to appKey when the
// header is absent (spec §4.4, §9).
func (c *Client) ResolveApplicationID() (string, error) {
	resp, err := c.do("GET", "/auth/v1", nil)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	id := resp.Header.Get("hue-application-id")
	if id == "" {
		c.logger.Warn("hue-application-id header missing, falling back to configured username", "host", c.host)
		return c.appKey, nil
	}
	return id, nil
}

func (c *Client) ListEntertainmentConfigurations() ([]EntertainmentConfiguration, error) {
	resp, err := c.do("GET", "/clip/v2/resource/entertainment_configuration", nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.HttpFailure, "reading entertainment configuration list body", err)
	}

	var parsed struct {
		Data []struct {
			ID       string `json:"id"`
			Metadata struct {
				Name string `json:"name"`
			} `json:"metadata"`
			Channels []struct {
				ChannelID float64 `json:"channel_id"`
			} `json:"channels"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.HttpFailure, "parsing entertainment configuration list", err)
	}

	configs := make([]EntertainmentConfiguration, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		ids := make([]int, 0, len(d.Channels))
		for _, ch := range d.Channels {
			ids = append(ids, int(ch.ChannelID))
		}
		configs = append(configs, EntertainmentConfiguration{
			ID:         d.ID,
			Name:       d.Metadata.Name,
			ChannelIDs: ids,
		})
	}
	return configs, nil
}

func (c *Client) StartEntertainmentConfiguration(id string) error {
	return c.setAction(id, "start")
}

func (c *Client) StopEntertainmentConfiguration(id string) error {
	return c.setAction(id, "stop")
}

func (c *Client) setAction(id string, action string) error {
	body, _ := json.Marshal(map[string]string{"action": action})
	resp, err := c.do("PUT", fmt.Sprintf("/clip/v2/resource/entertainment_configuration/%s", id), body)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// do issues one HTTPS request, following the strict-then-insecure-once
// fallback policy: the first attempt uses default certificate
// verification; if that attempt fails with a TLS/x509 error, it is
// retried exactly once with verification disabled (spec §4.4, §9).
func (c *Client) do(method string, path string, body []byte) (*http.Response, error) {
	url := fmt.Sprintf("https://%s%s", c.host, path)

	resp, err := c.send(c.strict, method, url, body)
	if err != nil && looksLikeTLSFailure(err) && !c.triedInsecure {
		c.logger.Warn("strict TLS verification failed, retrying once with verification disabled", "host", c.host, "err", err)
		c.triedInsecure = true
		resp, err = c.send(c.insecure, method, url, body)
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.HttpFailure, fmt.Sprintf("%s %s", method, path), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, bridgeerr.New(bridgeerr.HttpFailure, fmt.Sprintf("%s %s: status %d: %s", method, path, resp.StatusCode, string(respBody)))
	}
	return resp, nil
}

func (c *Client) send(client *http.Client, method string, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("hue-application-key", c.appKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return client.Do(req)
}

func looksLikeTLSFailure(err error) bool {
	var certErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) {
		return true
	}
	var tlsErr tls.RecordHeaderError
	return errors.As(err, &tlsErr)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
