package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/ragchain/internal/models"
)

// maxBindVars keeps IN lists below SQLite's default host parameter limit.
const maxBindVars = 500

// dialect holds the SQL differences between backends.
type dialect struct {
	name        string
	placeholder func(n int) string // n is 1-based
	schema      string
}

// SQLStore implements PassageStore on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	policy  GetPolicy
}

func newSQLStore(db *sql.DB, d dialect, policy GetPolicy) (*SQLStore, error) {
	if policy == "" {
		policy = GetPolicyPartial
	}
	if policy != GetPolicyStrict && policy != GetPolicyPartial {
		return nil, fmt.Errorf("unknown get policy: %s", policy)
	}
	if _, err := db.Exec(d.schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLStore{db: db, dialect: d, policy: policy}, nil
}

func (s *SQLStore) placeholders(start, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = s.dialect.placeholder(start + i)
	}
	return strings.Join(ps, ", ")
}

const passageColumns = `id, content, filepath, previous_passage_id, next_passage_id, metadata, created_at`

func scanPassage(sc interface{ Scan(...any) error }) (*models.Passage, error) {
	var (
		p            models.Passage
		metadataJSON sql.NullString
	)
	if err := sc.Scan(&p.ID, &p.Content, &p.Filepath, &p.PreviousPassageID, &p.NextPassageID, &metadataJSON, &p.CreatedAt); err != nil {
		return nil, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata of %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

// Get returns passages in the order of ids.
func (s *SQLStore) Get(ctx context.Context, ids []string) ([]*models.Passage, error) {
	found := make(map[string]*models.Passage, len(ids))
	for start := 0; start < len(ids); start += maxBindVars {
		end := min(start+maxBindVars, len(ids))
		batch := ids[start:end]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		query := fmt.Sprintf(`SELECT %s FROM passages WHERE id IN (%s)`, passageColumns, s.placeholders(1, len(batch)))
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query passages: %w", err)
		}
		for rows.Next() {
			p, err := scanPassage(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			found[p.ID] = p
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	out := make([]*models.Passage, 0, len(ids))
	var missing []string
	for _, id := range ids {
		if p, ok := found[id]; ok {
			out = append(out, p)
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 && s.policy == GetPolicyStrict {
		return out, &NotFoundError{Missing: missing}
	}
	return out, nil
}

// Upsert writes passages in one transaction.
func (s *SQLStore) Upsert(ctx context.Context, passages []*models.Passage) error {
	if len(passages) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO passages (%s) VALUES (%s)
		 ON CONFLICT (id) DO UPDATE SET
		   content = excluded.content,
		   filepath = excluded.filepath,
		   previous_passage_id = excluded.previous_passage_id,
		   next_passage_id = excluded.next_passage_id,
		   metadata = excluded.metadata`,
		passageColumns, s.placeholders(1, 7)))
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range passages {
		metadataJSON, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata of %s: %w", p.ID, err)
		}
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.Content, p.Filepath, p.PreviousPassageID, p.NextPassageID, string(metadataJSON), createdAt); err != nil {
			return fmt.Errorf("failed to upsert passage %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// Delete removes passages by id. Unknown ids are ignored.
func (s *SQLStore) Delete(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += maxBindVars {
		end := min(start+maxBindVars, len(ids))
		args := make([]any, end-start)
		for i, id := range ids[start:end] {
			args[i] = id
		}
		query := fmt.Sprintf(`DELETE FROM passages WHERE id IN (%s)`, s.placeholders(1, len(args)))
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete passages: %w", err)
		}
	}
	return nil
}

// ListByFilepath returns the passages of filepath ordered by following next links
// from the chain head. Passages not reachable from the head follow in id order.
func (s *SQLStore) ListByFilepath(ctx context.Context, filepath string) ([]*models.Passage, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM passages WHERE filepath = %s ORDER BY id`, passageColumns, s.dialect.placeholder(1)),
		filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to list passages: %w", err)
	}
	defer rows.Close()

	var all []*models.Passage
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chainOrder(all), nil
}

func chainOrder(passages []*models.Passage) []*models.Passage {
	byID := make(map[string]*models.Passage, len(passages))
	for _, p := range passages {
		byID[p.ID] = p
	}
	out := make([]*models.Passage, 0, len(passages))
	seen := make(map[string]bool, len(passages))
	for _, p := range passages {
		if _, hasPrev := byID[p.PreviousPassageID]; hasPrev || seen[p.ID] {
			continue
		}
		for cur := p; cur != nil && !seen[cur.ID]; cur = byID[cur.NextPassageID] {
			seen[cur.ID] = true
			out = append(out, cur)
		}
	}
	for _, p := range passages {
		if !seen[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the number of stored passages.
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&count)
	return count, err
}

// Driver returns the backend name.
func (s *SQLStore) Driver() string {
	return s.dialect.name
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
