// Package soap is a minimal SOAP 1.2 client for talking OCPP/S to charge
// points. Each call posts one envelope carrying WS-Addressing headers and
// the OCPP chargeBoxIdentity header, and decodes the reply body.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

var ErrNoEndpoint = errors.New("no endpoint for charging station")

// EndpointResolver returns the SOAP endpoint of a charging station.
type EndpointResolver func(id cs.ChargingStationID) (string, error)

// TemplateEndpoints resolves endpoints by replacing "{id}" in tmpl.
func TemplateEndpoints(tmpl string) EndpointResolver {
	return func(id cs.ChargingStationID) (string, error) {
		if tmpl == "" {
			return "", fmt.Errorf("%w: %s", ErrNoEndpoint, id)
		}
		return strings.ReplaceAll(tmpl, "{id}", id.String()), nil
	}
}

type Config struct {
	// Namespace is the OCPP charge point namespace of the protocol version.
	Namespace string
	Endpoints EndpointResolver
	// From is the central system address announced in wsa:From.
	From       string
	Timeout    time.Duration
	HTTPClient *http.Client
	Log        *slog.Logger
}

type Client struct {
	namespace string
	endpoints EndpointResolver
	from      string
	http      *http.Client
	log       *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Namespace == "" {
		return nil, errors.New("soap: namespace is required")
	}
	if cfg.Endpoints == nil {
		return nil, errors.New("soap: endpoint resolver is required")
	}
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Client{
		namespace: cfg.Namespace,
		endpoints: cfg.Endpoints,
		from:      cfg.From,
		http:      cfg.HTTPClient,
		log:       cfg.Log.With(slog.String("component", "soap"), slog.String("namespace", cfg.Namespace)),
	}, nil
}

// Call sends req as element bodyElement for action to station id and
// decodes the reply body into resp.
func (c *Client) Call(ctx context.Context, id cs.ChargingStationID, action, bodyElement string, req, resp any) error {
	endpoint, err := c.endpoints(id)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	enc := xml.NewEncoder(&body)
	if err := enc.EncodeElement(req, xml.StartElement{Name: xml.Name{Space: c.namespace, Local: bodyElement}}); err != nil {
		return fmt.Errorf("encode %s: %w", action, err)
	}
	if err := enc.Flush(); err != nil {
		return err
	}

	env := requestEnvelope{
		Header: requestHeader{
			ChargeBoxIdentity: chargeBoxIdentity{
				XMLName: xml.Name{Space: c.namespace, Local: "chargeBoxIdentity"},
				Value:   id.String(),
			},
			Action:    "/" + action,
			MessageID: "urn:uuid:" + uuid.NewString(),
			To:        endpoint,
		},
		Body: rawBody{Content: body.Bytes()},
	}
	if c.from != "" {
		env.Header.From = &addressFrom{Address: c.from}
	}

	payload, err := xml.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(append([]byte(xml.Header), payload...)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", fmt.Sprintf("%s; action=%q", ContentType, "/"+action))

	log := c.log.With(slog.String("station_id", id.String()), slog.String("action", action), slog.String("message_id", env.Header.MessageID))
	log.Debug("call")

	started := time.Now()
	res, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, id, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read reply: %w", action, id, err)
	}

	var out responseEnvelope
	if err := xml.Unmarshal(data, &out); err != nil {
		if res.StatusCode >= 300 {
			return fmt.Errorf("%s %s: http status %d", action, id, res.StatusCode)
		}
		return fmt.Errorf("%s %s: decode envelope: %w", action, id, err)
	}
	if out.Body.Fault != nil {
		return fmt.Errorf("%s %s: %w", action, id, out.Body.Fault)
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("%s %s: http status %d", action, id, res.StatusCode)
	}
	if resp != nil {
		if err := xml.Unmarshal(out.Body.Content, resp); err != nil {
			return fmt.Errorf("%s %s: decode body: %w", action, id, err)
		}
	}

	log.Debug("reply", slog.Duration("took", time.Since(started)))
	return nil
}
