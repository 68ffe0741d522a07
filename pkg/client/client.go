package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/testground/feedbench/pkg/feed"
	"github.com/testground/feedbench/pkg/logging"
	"github.com/testground/feedbench/pkg/server"
	"github.com/testground/feedbench/pkg/simnet"
)

// ErrNotFound is returned when a node has no update of the requested feed.
var ErrNotFound = errors.New("feed update not found")

// StatusError is a non successful response of a node.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("node responded %d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// Client is the API client that performs all feed operations against one
// storage node.
type Client struct {
	// client used to send and receive http requests.
	client   *http.Client
	endpoint string
}

var (
	_ feed.Node   = (*Client)(nil)
	_ simnet.Peer = (*Client)(nil)
)

// New initializes a new API client for the node at endpoint, a base URL such
// as http://localhost:1633.
func New(endpoint string) *Client {
	logging.S().Debugw("feed client initialized", "endpoint", endpoint)

	return &Client{
		client:   &http.Client{},
		endpoint: strings.TrimRight(endpoint, "/"),
	}
}

// Dial has the signature of bench.Dialer.
func Dial(endpoint string) (feed.Node, error) {
	return New(endpoint), nil
}

// Close the transport used by the client
func (c *Client) Close() error {
	if t, ok := c.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

func (c *Client) URL() string {
	return c.endpoint
}

// Name identifies the node as a replication peer.
func (c *Client) Name() string {
	return c.endpoint
}

func (c *Client) MakeFeedWriter(typ feed.Type, topic feed.Topic, id feed.Identity) (feed.Writer, error) {
	if err := typ.Validate(); err != nil {
		return nil, err
	}
	return &writer{c: c, path: feedPath(typ, id.Address, topic)}, nil
}

func (c *Client) MakeFeedReader(typ feed.Type, topic feed.Topic, address string) (feed.Reader, error) {
	if err := typ.Validate(); err != nil {
		return nil, err
	}
	return &reader{c: c, path: feedPath(typ, address, topic)}, nil
}

// RetrieveTag fetches the replication status of an upload.
func (c *Client) RetrieveTag(ctx context.Context, h feed.Handle) (*feed.Tag, error) {
	resp, err := c.request(ctx, "GET", "/tags/"+strconv.FormatUint(uint64(h), 10), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode tag: %w", err)
	}

	var tag struct {
		UID    uint32 `json:"uid"`
		Total  int64  `json:"total"`
		Synced int64  `json:"synced"`
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &tag,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode tag: %w", err)
	}

	return &feed.Tag{UID: feed.Handle(tag.UID), Synced: tag.Synced, Total: tag.Total}, nil
}

// Replicate pushes a replica to the node.
func (c *Client) Replicate(ctx context.Context, rec *simnet.Record) error {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(rec); err != nil {
		return err
	}

	resp, err := c.request(ctx, "POST", "/replicas", &body, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Health checks that the node is up.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.request(ctx, "GET", "/health", nil, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

type writer struct {
	c    *Client
	path string
}

func (w *writer) Upload(ctx context.Context, stamp string, ref feed.Reference) (feed.Handle, error) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(server.ReferenceBody{Reference: ref.Hex()}); err != nil {
		return 0, err
	}

	hdr := http.Header{}
	hdr.Set(server.HeaderPostageBatchID, stamp)

	resp, err := w.c.request(ctx, "POST", w.path, &body, hdr)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	uid, err := strconv.ParseUint(resp.Header.Get(server.HeaderTag), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s header: %w", server.HeaderTag, err)
	}
	return feed.Handle(uid), nil
}

type reader struct {
	c    *Client
	path string
}

func (r *reader) Download(ctx context.Context) (*feed.Update, error) {
	resp, err := r.c.request(ctx, "GET", r.path, nil, nil)
	if err != nil {
		var serr *StatusError
		if errors.As(err, &serr) && serr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, r.c.endpoint)
		}
		return nil, err
	}
	defer resp.Body.Close()

	var body server.ReferenceBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode feed update: %w", err)
	}

	return &feed.Update{
		Index:     resp.Header.Get(server.HeaderFeedIndex),
		Reference: body.Reference,
	}, nil
}

func feedPath(typ feed.Type, owner string, topic feed.Topic) string {
	return "/feeds/" + owner + "/" + topic.Hex() + "?type=" + string(typ)
}

// request performs an HTTP request against the node. Responses with a status
// of 300 or above are turned into a *StatusError.
func (c *Client) request(ctx context.Context, method string, path string, body io.Reader, hdr http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, err
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()

		var e server.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return nil, &StatusError{Status: resp.StatusCode, Message: e.Message}
	}
	return resp, nil
}
