// Package postgres implements the document store on PostgreSQL. Every
// partition lives in one JSONB table keyed by (partition, doc_id) with a
// UUID etag column serving as the concurrency token.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"f0oster/locmaster/docstore"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// SQL statements for document operations.
const (
	getDocument = `
		SELECT etag, body
		FROM documents
		WHERE partition = $1 AND doc_id = $2`

	queryAll = `
		SELECT doc_id, etag, body
		FROM documents
		WHERE partition = $1`

	queryFiltered = `
		SELECT doc_id, etag, body
		FROM documents
		WHERE partition = $1 AND body @> $2`

	insertDocument = `
		INSERT INTO documents (partition, doc_id, etag, body)
		VALUES ($1, $2, $3, $4)`

	replaceDocument = `
		UPDATE documents
		SET etag = $4, body = $5
		WHERE partition = $1 AND doc_id = $2 AND etag = $3`

	upsertDocument = `
		INSERT INTO documents (partition, doc_id, etag, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (partition, doc_id)
		DO UPDATE SET etag = EXCLUDED.etag, body = EXCLUDED.body`

	documentExists = `
		SELECT EXISTS (
			SELECT 1 FROM documents WHERE partition = $1 AND doc_id = $2
		)`
)

// Store is a docstore.Store over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for the given DSN.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to document store: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// ResetSchema installs the documents table. Dev convenience until a real
// migration story exists.
func (s *Store) ResetSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("install schema: %w", err)
	}
	return nil
}

func (s *Store) Container(partition string) docstore.Container {
	return &container{pool: s.pool, partition: partition}
}

type container struct {
	pool      *pgxpool.Pool
	partition string
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (c *container) Get(ctx context.Context, id string) (docstore.Doc, error) {
	var (
		etag uuid.UUID
		body []byte
	)
	err := c.pool.QueryRow(ctx, getDocument, c.partition, id).Scan(&etag, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Doc{}, fmt.Errorf("get %q: %w", id, docstore.ErrNotFound)
	}
	if err != nil {
		return docstore.Doc{}, fmt.Errorf("get %q: %w", id, err)
	}
	return docstore.Doc{ID: id, ETag: etag.String(), Body: body}, nil
}

func (c *container) Query(ctx context.Context, filter docstore.Filter) ([]docstore.Doc, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(filter) == 0 {
		rows, err = c.pool.Query(ctx, queryAll, c.partition)
	} else {
		var filterJSON []byte
		filterJSON, err = json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("encode filter: %w", err)
		}
		rows, err = c.pool.Query(ctx, queryFiltered, c.partition, filterJSON)
	}
	if err != nil {
		return nil, fmt.Errorf("query partition %q: %w", c.partition, err)
	}
	defer rows.Close()

	var out []docstore.Doc
	for rows.Next() {
		var (
			id   string
			etag uuid.UUID
			body []byte
		)
		if err := rows.Scan(&id, &etag, &body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, docstore.Doc{ID: id, ETag: etag.String(), Body: body})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query partition %q: %w", c.partition, err)
	}
	return out, nil
}

func (c *container) Insert(ctx context.Context, doc docstore.Doc) (docstore.Doc, error) {
	return c.insert(ctx, c.pool, doc)
}

func (c *container) Replace(ctx context.Context, doc docstore.Doc) (docstore.Doc, error) {
	return c.replace(ctx, c.pool, doc)
}

func (c *container) Upsert(ctx context.Context, doc docstore.Doc) (docstore.Doc, error) {
	return c.upsert(ctx, c.pool, doc)
}

func (c *container) insert(ctx context.Context, db execer, doc docstore.Doc) (docstore.Doc, error) {
	doc.ETag = uuid.NewString()
	if _, err := db.Exec(ctx, insertDocument, c.partition, doc.ID, doc.ETag, doc.Body); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return docstore.Doc{}, fmt.Errorf("insert %q: %w", doc.ID, docstore.ErrConflict)
		}
		return docstore.Doc{}, fmt.Errorf("insert %q: %w", doc.ID, err)
	}
	return doc, nil
}

func (c *container) replace(ctx context.Context, db execer, doc docstore.Doc) (docstore.Doc, error) {
	previous, err := uuid.Parse(doc.ETag)
	if err != nil {
		return docstore.Doc{}, fmt.Errorf("replace %q: bad etag: %w", doc.ID, err)
	}
	next := uuid.New()
	tag, err := db.Exec(ctx, replaceDocument, c.partition, doc.ID, previous, next, doc.Body)
	if err != nil {
		return docstore.Doc{}, fmt.Errorf("replace %q: %w", doc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Zero rows means either the document is gone or the token is stale.
		var exists bool
		if err := db.QueryRow(ctx, documentExists, c.partition, doc.ID).Scan(&exists); err != nil {
			return docstore.Doc{}, fmt.Errorf("replace %q: %w", doc.ID, err)
		}
		if exists {
			return docstore.Doc{}, fmt.Errorf("replace %q: %w", doc.ID, docstore.ErrConflict)
		}
		return docstore.Doc{}, fmt.Errorf("replace %q: %w", doc.ID, docstore.ErrNotFound)
	}
	doc.ETag = next.String()
	return doc, nil
}

func (c *container) upsert(ctx context.Context, db execer, doc docstore.Doc) (docstore.Doc, error) {
	doc.ETag = uuid.NewString()
	if _, err := db.Exec(ctx, upsertDocument, c.partition, doc.ID, doc.ETag, doc.Body); err != nil {
		return docstore.Doc{}, fmt.Errorf("upsert %q: %w", doc.ID, err)
	}
	return doc, nil
}

func (c *container) Execute(ctx context.Context, ops []docstore.Operation) (err error) {
	if len(ops) > docstore.MaxBatchItems {
		return fmt.Errorf("batch of %d exceeds the %d item cap", len(ops), docstore.MaxBatchItems)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer rollbackOrCommit(ctx, tx, &err)

	for i, op := range ops {
		switch op.Kind {
		case docstore.OpInsert:
			_, err = c.insert(ctx, tx, op.Doc)
		case docstore.OpReplace:
			_, err = c.replace(ctx, tx, op.Doc)
		case docstore.OpUpsert:
			_, err = c.upsert(ctx, tx, op.Doc)
		default:
			err = fmt.Errorf("unknown operation kind %d", op.Kind)
		}
		if err != nil {
			err = fmt.Errorf("batch operation %d: %w", i, err)
			return err
		}
	}
	return err
}

func rollbackOrCommit(ctx context.Context, tx pgx.Tx, err *error) {
	if *err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Printf("batch rollback failed: %v (original error: %v)", rbErr, *err)
		}
		return
	}
	if cmErr := tx.Commit(ctx); cmErr != nil {
		*err = fmt.Errorf("commit batch: %w", cmErr)
	}
}
