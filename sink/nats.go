package sink

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/use-agent/sitegrab/models"
)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// NATS publishes each page as one message on a subject. The connection is
// owned by the caller; Close only flushes it.
type NATS struct {
	nc      *nats.Conn
	subject string
	encode  Encoder
}

// NewNATS returns a sink publishing to subject over nc.
func NewNATS(nc *nats.Conn, subject string) *NATS {
	return &NATS{nc: nc, subject: subject, encode: EncodeJSON}
}

func (s *NATS) Write(ctx context.Context, page *models.ScrapedPage) error {
	data, err := s.encode(page)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeSink, "failed to encode record", err)
	}
	msg := &nats.Msg{Subject: s.subject, Data: data}
	msg.Header = nats.Header{}
	msg.Header.Set("Sitegrab-Request-Url", page.RequestURL)
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	if err := s.nc.PublishMsg(msg); err != nil {
		return models.NewScrapeError(models.ErrCodeSink, "failed to publish record", err)
	}
	return nil
}

func (s *NATS) Close() error {
	return s.nc.Flush()
}
