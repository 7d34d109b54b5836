package connector

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/ormasoftchile/dumper/pkg/config"
	"github.com/ormasoftchile/dumper/pkg/extract"
	"github.com/ormasoftchile/dumper/pkg/usage"
)

// Handle is the run's connection to the external system. Either field may
// be nil when the connector does not need it.
type Handle struct {
	DB   *sql.DB
	HTTP *http.Client
}

// NewHTTPClient returns the client units share for HTTP sources.
func NewHTTPClient(args *config.Arguments) *http.Client {
	timeout := 30 * time.Second
	if args != nil && args.HTTPTimeout > 0 {
		timeout = args.HTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Query runs SQL on the handle's database.
func (h *Handle) Query(ctx context.Context, query string, args ...any) (extract.Rows, error) {
	if h == nil || h.DB == nil {
		return nil, usage.New("no database connection", "set --url to run SQL tasks")
	}
	rows, err := h.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// HTTPClient returns the shared client, or nil to let units build one.
func (h *Handle) HTTPClient() *http.Client {
	if h == nil {
		return nil
	}
	return h.HTTP
}

// Close releases the database connection.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	var errs []error
	if h.DB != nil {
		errs = append(errs, h.DB.Close())
	}
	if h.HTTP != nil {
		h.HTTP.CloseIdleConnections()
	}
	return errors.Join(errs...)
}
