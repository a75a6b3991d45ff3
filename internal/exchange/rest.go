package exchange

import (
	"log/slog"

	"github.com/johnayoung/go-derivs-collector/internal/transport"
)

// restConnector is the common part of connectors that talk to their exchange
// through transport.Client.
type restConnector struct {
	id        string
	client    *transport.Client
	pageLimit int
	logger    *slog.Logger
}

func newRESTConnector(s Settings) restConnector {
	return restConnector{
		id:        s.ID,
		client:    s.restClient(),
		pageLimit: s.PageLimit,
		logger:    s.Logger.With("component", "exchange", "exchange", s.ID),
	}
}

// ID returns the connector id (okx, bitmex, ...).
func (c *restConnector) ID() string { return c.id }

// Has reports candle retrieval only.
func (c *restConnector) Has(capability Capability) bool {
	return capability == CapabilityFetchOHLCV
}
