// Package coordclient is the agents' client for the Coordination API.
package coordclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kiosk-call/internal/calls"
)

var (
	// ErrNetwork covers unreachable servers, timeouts and unexpected responses.
	ErrNetwork = errors.New("coordination api unreachable")
)

// Client talks to one Coordination API base URL. Errors wrap calls.ErrInvalidInput
// (400), calls.ErrNotFound (404) or ErrNetwork.
type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// InitiateResult is the initiate-call response.
type InitiateResult struct {
	Success   bool         `json:"success"`
	CallID    int64        `json:"callId"`
	Autostart bool         `json:"autostart"`
	Status    calls.Status `json:"status"`
}

type initiateBody struct {
	KioskID   int64  `json:"kioskId"`
	OfficerID int64  `json:"officerId"`
	CallType  string `json:"callType,omitempty"`
	Autostart bool   `json:"autostart"`
	PeerID    string `json:"peerId,omitempty"`
}

func (c *Client) Initiate(ctx context.Context, in calls.NewCall) (InitiateResult, error) {
	var out InitiateResult
	err := c.do(ctx, http.MethodPost, "/api/initiate-call", nil, initiateBody{
		KioskID:   in.KioskID,
		OfficerID: in.OfficerID,
		CallType:  in.CallType,
		Autostart: in.Autostart,
		PeerID:    in.PeerID,
	}, &out)
	return out, err
}

type pendingBody struct {
	PendingCall bool `json:"pendingCall"`
	calls.Record
}

// PendingForKiosk returns the oldest unacknowledged call for the kiosk.
func (c *Client) PendingForKiosk(ctx context.Context, kioskID int64) (calls.Record, bool, error) {
	var out pendingBody
	q := url.Values{"kioskId": {strconv.FormatInt(kioskID, 10)}}
	if err := c.do(ctx, http.MethodGet, "/api/pending-calls", q, nil, &out); err != nil {
		return calls.Record{}, false, err
	}
	if !out.PendingCall {
		return calls.Record{}, false, nil
	}
	return out.Record, true, nil
}

func (c *Client) Acknowledge(ctx context.Context, callID int64) error {
	return c.do(ctx, http.MethodPost, "/api/acknowledge-call", nil, map[string]int64{"callId": callID}, nil)
}

func (c *Client) OfficerCalls(ctx context.Context, officerID int64) ([]calls.Record, error) {
	var out struct {
		Calls []calls.Record `json:"calls"`
	}
	q := url.Values{"officerId": {strconv.FormatInt(officerID, 10)}}
	if err := c.do(ctx, http.MethodGet, "/api/officer-calls", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Calls, nil
}

func (c *Client) EndCall(ctx context.Context, req calls.EndRequest) error {
	return c.do(ctx, http.MethodPost, "/api/end-call", nil, req, nil)
}

func (c *Client) Stats(ctx context.Context) (calls.Stats, error) {
	var out calls.Stats
	err := c.do(ctx, http.MethodGet, "/api/call-stats", nil, nil, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, callID int64) (calls.Record, error) {
	var out calls.Record
	err := c.do(ctx, http.MethodGet, "/api/call/"+strconv.FormatInt(callID, 10), nil, nil, &out)
	return out, err
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrNetwork, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		var ae apiError
		_ = json.Unmarshal(raw, &ae)
		msg := ae.Error
		if msg == "" {
			msg = resp.Status
		}
		switch resp.StatusCode {
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s", calls.ErrInvalidInput, msg)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", calls.ErrNotFound, msg)
		default:
			return fmt.Errorf("%w: %s %s: %s", ErrNetwork, method, path, msg)
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrNetwork, path, err)
	}
	return nil
}
