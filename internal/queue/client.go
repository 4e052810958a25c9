package queue

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"maxpop/internal/provision"
)

// Endpoint is one instance of the queue service.
type Endpoint struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// PopResult is the observed answer to a single pop.
type PopResult struct {
	Endpoint Endpoint
	Status   int
	Data     json.RawMessage
	Body     []byte
	Latency  time.Duration
}

var emptyArray = []byte("[]")

// Empty reports whether the queue had nothing to hand out.
func (r PopResult) Empty() bool {
	return bytes.Equal(bytes.TrimSpace(r.Data), emptyArray)
}

type popBody struct {
	OK   bool            `json:"ok"`
	Data json.RawMessage `json:"data"`
}

// Client issues push and pop calls against the queue service.
type Client struct {
	Protocol string
	HTTP     *http.Client
}

// NewClient returns a client with a transport sized for bursty fan-out.
// A zero timeout leaves requests unbounded.
func NewClient(protocol string, timeout time.Duration, maxConns int) *Client {
	if protocol == "" {
		protocol = "http"
	}
	if maxConns <= 0 {
		maxConns = 500
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = maxConns
	t.MaxConnsPerHost = maxConns
	t.MaxIdleConnsPerHost = maxConns
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &Client{
		Protocol: protocol,
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: t,
		},
	}
}

func (c *Client) url(ep Endpoint, path string, query url.Values) string {
	u := url.URL{
		Scheme: c.Protocol,
		Host:   ep.String(),
		Path:   path,
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Pop asks ep for at most max messages from queue. A non-nil error means no response was received.
func (c *Client) Pop(ctx context.Context, ep Endpoint, queue string, max int) (PopResult, error) {
	q := url.Values{}
	q.Set("max", strconv.Itoa(max))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(ep, "/queue/"+queue+"/pop", q), nil)
	if err != nil {
		return PopResult{Endpoint: ep}, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return PopResult{Endpoint: ep, Latency: time.Since(start)}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	res := PopResult{
		Endpoint: ep,
		Status:   resp.StatusCode,
		Body:     body,
		Latency:  time.Since(start),
	}
	if err != nil {
		return res, fmt.Errorf("read pop body: %w", err)
	}

	var pb popBody
	if json.Unmarshal(body, &pb) == nil {
		res.Data = pb.Data
	}
	return res, nil
}

// Push posts a provision to ep as a new transaction.
func (c *Client) Push(ctx context.Context, ep Endpoint, p provision.Provision) error {
	b, err := p.JSON()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(ep, "/trans", nil), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push to %s: unexpected status %d", ep, resp.StatusCode)
	}
	return nil
}

// HTTPFiller pushes provisions through the service API of a single endpoint.
type HTTPFiller struct {
	Client   *Client
	Endpoint Endpoint
}

// Push sends p to queue only, whatever destinations it was generated with.
func (f HTTPFiller) Push(ctx context.Context, queue string, p provision.Provision) error {
	p.Queues = []provision.QueueRef{{ID: queue}}
	return f.Client.Push(ctx, f.Endpoint, p)
}
