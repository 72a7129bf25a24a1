package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/arena/internal/adapters/graph/migrations"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const memoryDSN = ":memory:"

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source of updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is a Graph and roster Hierarchy persisted in SQLite.
type Store struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

// Open opens the graph database at path and applies migrations. An empty
// path opens a private in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := memoryDSN
	if strings.TrimSpace(path) != "" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if dsn == memoryDSN {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("graph")
	}
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func record(op string, out Outcome, err error) (Outcome, error) {
	if err != nil {
		metrics.RecordGraphOp(op, "error")
		return OutcomeEmpty, err
	}
	metrics.RecordGraphOp(op, out.String())
	return out, nil
}

func encodePayload(p map[string]any) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodePayload(raw string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var p map[string]any
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil
	}
	return p
}

// inTx runs fn in a transaction and returns the total rows it affected.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) (int64, error)) (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	n, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

// UpsertNodes writes every node keyed by id.
func (s *Store) UpsertNodes(ctx context.Context, nodes []model.Node) (Outcome, error) {
	if len(nodes) == 0 {
		return record("upsert_nodes", OutcomeEmpty, nil)
	}
	stamp := s.now().UTC().UnixMilli()
	n, err := s.inTx(ctx, func(tx *sql.Tx) (int64, error) {
		var total int64
		for _, node := range nodes {
			if strings.TrimSpace(node.ID) == "" {
				return 0, fmt.Errorf("%w: node without id", ErrInvalidElement)
			}
			payload, err := encodePayload(node.Payload)
			if err != nil {
				return 0, fmt.Errorf("encode node %s: %w", node.ID, err)
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO nodes (id, label, type, owner, payload, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET
				   label = excluded.label,
				   type = excluded.type,
				   owner = excluded.owner,
				   payload = excluded.payload,
				   updated_at = excluded.updated_at`,
				node.ID, node.Label, string(node.Type), node.Owner, payload, stamp,
			)
			if err != nil {
				return 0, fmt.Errorf("upsert node %s: %w", node.ID, err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM tombstones WHERE id = ?", node.ID); err != nil {
				return 0, fmt.Errorf("clear tombstone %s: %w", node.ID, err)
			}
			total += affected(res)
		}
		return total, nil
	})
	return record("upsert_nodes", outcomeOf(n), err)
}

// UpsertEdges writes every edge keyed by EdgeID(from, to). An edge with
// IsConfirmNew set is only inserted, never overwritten. Edges touching a
// node removed by DeleteNode are skipped until that node is upserted again.
func (s *Store) UpsertEdges(ctx context.Context, edges []model.Edge) (Outcome, error) {
	if len(edges) == 0 {
		return record("upsert_edges", OutcomeEmpty, nil)
	}
	stamp := s.now().UTC().UnixMilli()
	n, err := s.inTx(ctx, func(tx *sql.Tx) (int64, error) {
		var total int64
		for _, e := range edges {
			if e.FromID == "" || e.ToID == "" {
				return 0, fmt.Errorf("%w: edge %q needs both ends", ErrInvalidElement, e.ID)
			}
			payload, err := encodePayload(e.Payload)
			if err != nil {
				return 0, fmt.Errorf("encode edge %s: %w", e.ID, err)
			}
			conflict := `DO UPDATE SET
				   label = excluded.label,
				   payload = excluded.payload,
				   updated_at = excluded.updated_at`
			if e.IsConfirmNew {
				conflict = "DO NOTHING"
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO edges (id, from_id, to_id, label, payload, updated_at)
				 SELECT ?, ?, ?, ?, ?, ?
				  WHERE NOT EXISTS (SELECT 1 FROM tombstones WHERE id IN (?, ?))
				 ON CONFLICT(id) `+conflict,
				model.EdgeID(e.FromID, e.ToID), e.FromID, e.ToID, e.Label, payload, stamp,
				e.FromID, e.ToID,
			)
			if err != nil {
				return 0, fmt.Errorf("upsert edge %s: %w", e.ID, err)
			}
			total += affected(res)
		}
		return total, nil
	})
	return record("upsert_edges", outcomeOf(n), err)
}

// DeleteNode removes id, the nodes it owns and all of their edges, and
// leaves a tombstone for each so that edge batches still in flight cannot
// bring the edges back. Deleting an absent node is a no-op with OutcomeEmpty.
func (s *Store) DeleteNode(ctx context.Context, id string) (Outcome, error) {
	stamp := s.now().UTC().UnixMilli()
	n, err := s.inTx(ctx, func(tx *sql.Tx) (int64, error) {
		ids := []string{id}
		rows, err := tx.QueryContext(ctx, "SELECT id FROM nodes WHERE owner = ? AND owner <> ''", id)
		if err != nil {
			return 0, fmt.Errorf("find owned nodes of %s: %w", id, err)
		}
		for rows.Next() {
			var owned string
			if err := rows.Scan(&owned); err != nil {
				_ = rows.Close()
				return 0, err
			}
			ids = append(ids, owned)
		}
		if err := rows.Close(); err != nil {
			return 0, err
		}

		var total int64
		for _, nodeID := range ids {
			res, err := tx.ExecContext(ctx, "DELETE FROM edges WHERE from_id = ? OR to_id = ?", nodeID, nodeID)
			if err != nil {
				return 0, fmt.Errorf("delete edges of %s: %w", nodeID, err)
			}
			total += affected(res)
			res, err = tx.ExecContext(ctx, "DELETE FROM nodes WHERE id = ?", nodeID)
			if err != nil {
				return 0, fmt.Errorf("delete node %s: %w", nodeID, err)
			}
			total += affected(res)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tombstones (id, deleted_at) VALUES (?, ?)
				 ON CONFLICT(id) DO UPDATE SET deleted_at = excluded.deleted_at`,
				nodeID, stamp,
			); err != nil {
				return 0, fmt.Errorf("tombstone %s: %w", nodeID, err)
			}
		}
		return total, nil
	})
	if err == nil && n > 0 {
		s.logger.Debug(ctx, "node removed", logger.String("nodeId", id), logger.Int("rows", int(n)))
	}
	return record("delete_node", outcomeOf(n), err)
}

func outcomeOf(n int64) Outcome {
	if n > 0 {
		return OutcomeOK
	}
	return OutcomeEmpty
}

// Query runs a named query rooted at nodeID.
func (s *Store) Query(ctx context.Context, nodeID, queryName string) (Result, error) {
	if s.db == nil {
		return Result{}, ErrClosed
	}
	switch queryName {
	case QueryNode:
		return s.node(ctx, nodeID)
	case QueryOutgoing:
		return s.adjacent(ctx, nodeID, "from_id", "to_id")
	case QueryIncoming:
		return s.adjacent(ctx, nodeID, "to_id", "from_id")
	}
	return Result{}, fmt.Errorf("%w: %s", ErrUnknownQuery, queryName)
}

func (s *Store) node(ctx context.Context, id string) (Result, error) {
	var (
		n       model.Node
		typ     string
		payload string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, label, type, owner, payload FROM nodes WHERE id = ?", id,
	).Scan(&n.ID, &n.Label, &typ, &n.Owner, &payload)
	if err == sql.ErrNoRows {
		return Result{Outcome: OutcomeEmpty}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("get node %s: %w", id, err)
	}
	n.Type = model.NodeType(typ)
	n.Payload = decodePayload(payload)
	return Result{Outcome: OutcomeOK, Nodes: []model.Node{n}}, nil
}

// adjacent lists the edges whose anchor column equals id, together with the
// nodes on their far side that exist.
func (s *Store) adjacent(ctx context.Context, id, anchor, far string) (Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.from_id, e.to_id, e.label, e.payload,
		        n.id, n.label, n.type, n.owner, n.payload
		   FROM edges e
		   LEFT JOIN nodes n ON n.id = e.`+far+`
		  WHERE e.`+anchor+` = ?
		  ORDER BY e.id`, id)
	if err != nil {
		return Result{}, fmt.Errorf("query edges of %s: %w", id, err)
	}
	defer rows.Close()

	res := Result{}
	for rows.Next() {
		var (
			e                                    model.Edge
			edgePayload                          string
			nID, nLabel, nType, nOwner, nPayload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.FromID, &e.ToID, &e.Label, &edgePayload,
			&nID, &nLabel, &nType, &nOwner, &nPayload); err != nil {
			return Result{}, fmt.Errorf("scan edge: %w", err)
		}
		e.Payload = decodePayload(edgePayload)
		res.Edges = append(res.Edges, e)
		if nID.Valid {
			res.Nodes = append(res.Nodes, model.Node{
				ID:      nID.String,
				Label:   nLabel.String,
				Type:    model.NodeType(nType.String),
				Owner:   nOwner.String,
				Payload: decodePayload(nPayload.String),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	res.Outcome = outcomeOf(int64(len(res.Edges)))
	return res, nil
}

// ActiveSubGroups pages the active child groups of groupID.
func (s *Store) ActiveSubGroups(ctx context.Context, groupID string, offset, limit int) ([]string, error) {
	return s.activeTargets(ctx, groupID, model.EdgeHasSubGroup, offset, limit)
}

// ActiveUsers pages the active members of groupID.
func (s *Store) ActiveUsers(ctx context.Context, groupID string, offset, limit int) ([]string, error) {
	return s.activeTargets(ctx, groupID, model.EdgeHasMember, offset, limit)
}

func (s *Store) activeTargets(ctx context.Context, groupID, label string, offset, limit int) ([]string, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.to_id
		   FROM edges e
		   JOIN nodes n ON n.id = e.to_id
		  WHERE e.from_id = ? AND e.label = ?
		    AND json_extract(n.payload, '$.active') = 1
		  ORDER BY e.to_id
		  LIMIT ? OFFSET ?`, groupID, label, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("page %s of %s: %w", label, groupID, err)
	}
	defer rows.Close()

	out := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
