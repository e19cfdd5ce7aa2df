// Package graphdb talks to a running Neo4j over Bolt: connectivity checks,
// post-import counts and schema statements.
package graphdb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/ports"
)

type Settings struct {
	URI            string
	Username       string
	Password       string
	Database       string
	ConnectTimeout time.Duration
}

// Probe implements ports.GraphProbe.
type Probe struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ ports.GraphProbe = (*Probe)(nil)

// New creates the driver. No connection is made until the first call.
func New(s Settings) (*Probe, error) {
	uri := strings.TrimSpace(s.URI)
	if uri == "" {
		return nil, fmt.Errorf("bolt uri is required")
	}
	auth := neo4j.NoAuth()
	if s.Username != "" {
		auth = neo4j.BasicAuth(s.Username, s.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth, func(c *config.Config) {
		if s.ConnectTimeout > 0 {
			c.SocketConnectTimeout = s.ConnectTimeout
			c.ConnectionAcquisitionTimeout = s.ConnectTimeout
		}
		c.MaxConnectionPoolSize = 4
	})
	if err != nil {
		return nil, errs.Wrapf(err, "create bolt driver for %s", uri)
	}
	return &Probe{driver: driver, database: s.Database}, nil
}

func (p *Probe) Ping(ctx context.Context) error {
	return errs.Wrap(p.driver.VerifyConnectivity(ctx), "verify bolt connectivity")
}

// Counts reads node and relationship totals plus a per-label node count.
// All three queries are answered from the count store.
func (p *Probe) Counts(ctx context.Context) (ports.GraphCounts, error) {
	session := p.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: p.database})
	defer session.Close(ctx)

	var out ports.GraphCounts
	var err error
	if out.Nodes, err = singleInt(ctx, session, "MATCH (n) RETURN count(n) AS n"); err != nil {
		return out, errs.Wrap(err, "count nodes")
	}
	if out.Relationships, err = singleInt(ctx, session, "MATCH ()-[r]->() RETURN count(r) AS n"); err != nil {
		return out, errs.Wrap(err, "count relationships")
	}

	labels, err := stringColumn(ctx, session, "CALL db.labels() YIELD label RETURN label")
	if err != nil {
		return out, errs.Wrap(err, "list labels")
	}
	out.Labels = make(map[string]int64, len(labels))
	for _, label := range labels {
		n, err := singleInt(ctx, session, "MATCH (n:"+QuoteName(label)+") RETURN count(n) AS n")
		if err != nil {
			return out, errs.Wrapf(err, "count label %s", label)
		}
		out.Labels[label] = n
	}
	return out, nil
}

// Apply runs each statement in its own auto-commit transaction, in order.
// Schema commands cannot share a transaction with each other in Neo4j.
func (p *Probe) Apply(ctx context.Context, statements []string) error {
	ctx = logging.WithAttrs(ctx, slog.String("component", "graphdb"))
	session := p.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: p.database})
	defer session.Close(ctx)

	for i, stmt := range statements {
		result, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return errs.Wrapf(err, "schema statement %d", i+1)
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return errs.Wrapf(err, "schema statement %d", i+1)
		}
		c := summary.Counters()
		logging.Debug(ctx, "schema statement applied",
			slog.Int("index", i+1),
			slog.Int("constraints_added", c.ConstraintsAdded()),
			slog.Int("indexes_added", c.IndexesAdded()),
		)
	}
	logging.Info(ctx, "schema statements applied", slog.Int("count", len(statements)))
	return nil
}

func (p *Probe) Close(ctx context.Context) error {
	return p.driver.Close(ctx)
}

func singleInt(ctx context.Context, session neo4j.SessionWithContext, query string) (int64, error) {
	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return 0, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	val, ok := record.Get("n")
	if !ok || val == nil {
		return 0, nil
	}
	switch v := val.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("unexpected count type %T", val)
	}
}

func stringColumn(ctx context.Context, session neo4j.SessionWithContext, query string) ([]string, error) {
	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	var out []string
	for result.Next(ctx) {
		if s, ok := result.Record().Values[0].(string); ok {
			out = append(out, s)
		}
	}
	return out, result.Err()
}

// QuoteName backtick-quotes a label or relationship type for Cypher.
func QuoteName(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
