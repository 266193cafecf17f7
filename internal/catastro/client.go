// Package catastro queries the public cadastre lookup service and reduces its
// responses to enrichment records.
package catastro

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/catastro-enricher/internal/refcat"
)

// maxBody bounds how much of a response is read
const maxBody = 8 << 20

// Config holds the lookup endpoint settings
type Config struct {
	Endpoint  string
	Param     string // query parameter carrying the reference code
	Timeout   time.Duration
	UserAgent string
}

// Resolver queries reference codes and reduces the answers to records.
// *Client is the production implementation.
type Resolver interface {
	Query(ctx context.Context, code refcat.Code) Result
	Reduce(code refcat.Code, result Result) refcat.Record
}

// Client talks to the remote lookup service
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a client. The request timeout is the only cancellation
// applied to a lookup besides the caller's context.
func NewClient(cfg Config, log *zap.Logger, opts ...Option) *Client {
	if cfg.Param == "" {
		cfg.Param = "RefCat"
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) requestURL(code refcat.Code) (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(c.cfg.Param, code.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Query sends one request for code and returns the parsed variant
func (c *Client) Query(ctx context.Context, code refcat.Code) Result {
	target, err := c.requestURL(code)
	if err != nil {
		return transportFailure(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return transportFailure(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportFailure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return Failure{
			Kind:   refcat.KindHTTPStatus,
			Reason: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Err:    refcat.E(refcat.KindHTTPStatus, "catastro.query", fmt.Errorf("status %d", resp.StatusCode)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return transportFailure(err)
	}
	return parseResult(body)
}

func transportFailure(err error) Failure {
	return Failure{
		Kind:   refcat.KindTransport,
		Reason: err.Error(),
		Err:    refcat.E(refcat.KindTransport, "catastro.query", err),
	}
}

// Resolve queries code and reduces the response to one record. Failures come
// back as a sentinel record whose address carries the reason.
func (c *Client) Resolve(ctx context.Context, code refcat.Code) refcat.Record {
	c.log.Info("Consultando", zap.String("refcat", code.String()))
	return c.Reduce(code, c.Query(ctx, code))
}

// Reduce turns a query result into a record, logging what was chosen
func (c *Client) Reduce(code refcat.Code, result Result) refcat.Record {
	switch r := result.(type) {
	case Single:
		if r.Notice != "" {
			c.log.Warn("El servicio devolvió un aviso", zap.String("refcat", code.String()), zap.String("notice", r.Notice))
		}
		c.log.Info("Referencia única",
			zap.String("refcat", code.String()),
			zap.Int("anno", r.Property.Year),
			zap.String("direccion", r.Property.Address))

	case Multiple:
		c.log.Info("Referencia con múltiples entradas", zap.String("refcat", code.String()), zap.Int("count", len(r.Properties)))
		for _, p := range r.Properties {
			c.log.Info("Subreferencia",
				zap.String("rc", p.Ref),
				zap.Int("anno", p.Year),
				zap.String("direccion", p.Address))
		}
		chosen, idx := SelectLatest(r.Properties)
		c.log.Info("Seleccionado para múltiples referencias",
			zap.String("refcat", code.String()),
			zap.Int("index", idx),
			zap.Int("anno", chosen.Year),
			zap.String("direccion", chosen.Address))

	case Failure:
		c.log.Warn("Error en la consulta",
			zap.String("refcat", code.String()),
			zap.String("kind", r.Kind.String()),
			zap.String("reason", r.Reason))
	}
	return RecordOf(result)
}
