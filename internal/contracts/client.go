// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package contracts talks to the Canonical contracts service to exchange
// a contract token for the livepatch-onprem resource token.
package contracts

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gopkg.in/httprequest.v1"
)

var logger = loggo.GetLogger("livepatch.contracts")

const (
	// ResourceName is the contracts resource livepatch on-prem servers
	// are entitled to.
	ResourceName = "livepatch-onprem"
	machineID    = "livepatch-onprem"
)

// Doer sends HTTP requests. *http.Client implements it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client is a contracts service client.
type Client struct {
	baseURL string
	doer    Doer
}

// NewClient returns a Client for the service at baseURL.
func NewClient(baseURL string, doer Doer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		doer:    doer,
	}
}

type machineTokenRequest struct {
	Architecture string    `json:"architecture"`
	HostType     string    `json:"hostType"`
	MachineID    string    `json:"machineId"`
	OS           osDetails `json:"os"`
}

type osDetails struct {
	Distribution string `json:"distribution"`
	Kernel       string `json:"kernel"`
	Release      string `json:"release"`
	Series       string `json:"series"`
	Type         string `json:"type"`
}

type machineTokenResponse struct {
	MachineToken string `json:"machineToken"`
}

type resourceTokenResponse struct {
	ResourceToken string `json:"resourceToken"`
}

// MachineToken exchanges a contract token for a machine token.
func (c *Client) MachineToken(ctx context.Context, contractToken string, info SystemInfo) (string, error) {
	body := machineTokenRequest{
		Architecture: info.Architecture,
		HostType:     "container",
		MachineID:    machineID,
		OS: osDetails{
			Distribution: info.Version,
			Kernel:       info.KernelVersion,
			Release:      info.VersionID,
			Series:       info.VersionCodename,
			Type:         "Linux",
		},
	}
	var resp machineTokenResponse
	if err := c.call(ctx, http.MethodPost, "/v1/context/machines/token", contractToken, body, &resp); err != nil {
		return "", errors.Annotate(err, "fetching machine token")
	}
	if resp.MachineToken == "" {
		return "", errors.NotFoundf("machineToken in response")
	}
	return resp.MachineToken, nil
}

// ResourceToken exchanges a machine token for the livepatch-onprem
// resource token.
func (c *Client) ResourceToken(ctx context.Context, machineToken string) (string, error) {
	path := "/v1/resources/" + ResourceName + "/context/machines/" + machineID
	var resp resourceTokenResponse
	if err := c.call(ctx, http.MethodGet, path, machineToken, nil, &resp); err != nil {
		return "", errors.Annotate(err, "fetching resource token")
	}
	if resp.ResourceToken == "" {
		return "", errors.NotFoundf("resourceToken in response")
	}
	return resp.ResourceToken, nil
}

func (c *Client) call(ctx context.Context, method, path, token string, body, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return errors.Trace(err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.Annotate(err, "can not make new request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger.Debugf("%s %s", method, path)
	resp, err := c.doer.Do(req)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("%s %s: %d %s", method, path, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if err := httprequest.UnmarshalJSONResponse(resp, result); err != nil {
		return errors.Trace(err)
	}
	return nil
}
