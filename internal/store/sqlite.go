package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"claimline/internal/domain"
)

// SQLite is the durable document-store backend. Claims, runs and
// decisions are stored as JSON documents with the columns the queries
// need; ledger events and run events get full rows so their composite
// keys sort in SQL.
type SQLite struct {
	DB *sql.DB
}

// NewSQLite wraps an opened database handle.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{DB: db}
}

func (s *SQLite) PutClaim(ctx context.Context, c domain.Claim) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal claim: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO claims(id,stage,doc_json,created_at,updated_at) VALUES (?,?,?,?,?)`,
		c.ID, string(c.Stage), string(doc), c.CreatedAt, c.UpdatedAt)
	return err
}

func scanClaim(docJSON string) (domain.Claim, error) {
	var c domain.Claim
	if err := json.Unmarshal([]byte(docJSON), &c); err != nil {
		return domain.Claim{}, fmt.Errorf("unmarshal claim: %w", err)
	}
	return c, nil
}

func (s *SQLite) GetClaim(ctx context.Context, claimID string) (domain.Claim, error) {
	var doc string
	err := s.DB.QueryRowContext(ctx, `SELECT doc_json FROM claims WHERE id=?`, claimID).Scan(&doc)
	if err == sql.ErrNoRows {
		return domain.Claim{}, ErrNotFound
	}
	if err != nil {
		return domain.Claim{}, err
	}
	return scanClaim(doc)
}

func (s *SQLite) ListClaims(ctx context.Context) ([]domain.Claim, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT doc_json FROM claims ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Claim
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		c, err := scanClaim(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateClaimStage(ctx context.Context, claimID string, stage domain.Stage, updatedAt string) error {
	c, err := s.GetClaim(ctx, claimID)
	if err != nil {
		return err
	}
	c.Stage = stage
	c.UpdatedAt = updatedAt
	return s.UpdateClaim(ctx, c)
}

func (s *SQLite) UpdateClaim(ctx context.Context, c domain.Claim) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal claim: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE claims SET stage=?, doc_json=?, updated_at=? WHERE id=?`,
		string(c.Stage), string(doc), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) PutEvent(ctx context.Context, ev domain.ClaimEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO claim_events(claim_id,event_key,created_at,stage,type,data_json,prev_hash,hash) VALUES (?,?,?,?,?,?,?,?)`,
		ev.ClaimID, ev.EventKey, ev.CreatedAt, string(ev.Stage), string(ev.Type), string(data), nullable(ev.PrevHash), ev.Hash)
	return err
}

func scanEvent(rows interface{ Scan(...any) error }) (domain.ClaimEvent, error) {
	var ev domain.ClaimEvent
	var stage, typ, data string
	var prev sql.NullString
	if err := rows.Scan(&ev.ClaimID, &ev.EventKey, &ev.CreatedAt, &stage, &typ, &data, &prev, &ev.Hash); err != nil {
		return ev, err
	}
	ev.Stage = domain.Stage(stage)
	ev.Type = domain.EventType(typ)
	if prev.Valid {
		ev.PrevHash = prev.String
	}
	if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
		return ev, fmt.Errorf("unmarshal event data: %w", err)
	}
	return ev, nil
}

const eventCols = `claim_id,event_key,created_at,stage,type,data_json,prev_hash,hash`

func (s *SQLite) GetLastEvent(ctx context.Context, claimID string) (domain.ClaimEvent, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+eventCols+` FROM claim_events WHERE claim_id=? ORDER BY event_key DESC LIMIT 1`, claimID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return domain.ClaimEvent{}, ErrNotFound
	}
	return ev, err
}

func (s *SQLite) GetEvents(ctx context.Context, claimID string) ([]domain.ClaimEvent, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+eventCols+` FROM claim_events WHERE claim_id=? ORDER BY event_key ASC`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ClaimEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLite) PutRun(ctx context.Context, r domain.Run) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO runs(id,claim_id,status,started_at,doc_json) VALUES (?,?,?,?,?)`,
		r.ID, r.ClaimID, string(r.Status), r.StartedAt, string(doc))
	return err
}

func (s *SQLite) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	var doc string
	err := s.DB.QueryRowContext(ctx, `SELECT doc_json FROM runs WHERE id=?`, runID).Scan(&doc)
	if err == sql.ErrNoRows {
		return domain.Run{}, ErrNotFound
	}
	if err != nil {
		return domain.Run{}, err
	}
	var r domain.Run
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return domain.Run{}, fmt.Errorf("unmarshal run: %w", err)
	}
	return r, nil
}

func (s *SQLite) UpdateRun(ctx context.Context, r domain.Run) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE runs SET status=?, doc_json=? WHERE id=?`,
		string(r.Status), string(doc), r.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) GetRunsForClaim(ctx context.Context, claimID string) ([]domain.Run, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT doc_json FROM runs WHERE claim_id=? ORDER BY started_at ASC, id ASC`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Run
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r domain.Run
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, fmt.Errorf("unmarshal run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) PutRunEvent(ctx context.Context, ev domain.RunEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal run event payload: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO run_events(run_id,seq,ts,type,payload_json) VALUES (?,?,?,?,?)`,
		ev.RunID, ev.Seq, ev.TS, ev.Type, string(payload))
	return err
}

func (s *SQLite) GetRunEvents(ctx context.Context, runID string, afterSeq int64) ([]domain.RunEvent, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT run_id,seq,ts,type,payload_json FROM run_events WHERE run_id=? AND seq>? ORDER BY seq ASC`, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.RunEvent
	for rows.Next() {
		var ev domain.RunEvent
		var payload string
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.TS, &ev.Type, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal run event payload: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLite) PutDecision(ctx context.Context, d domain.ReviewerDecision) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO decisions(claim_id,doc_json) VALUES (?,?)
ON CONFLICT(claim_id) DO UPDATE SET doc_json=excluded.doc_json`, d.ClaimID, string(doc))
	return err
}

func (s *SQLite) GetDecision(ctx context.Context, claimID string) (domain.ReviewerDecision, error) {
	var doc string
	err := s.DB.QueryRowContext(ctx, `SELECT doc_json FROM decisions WHERE claim_id=?`, claimID).Scan(&doc)
	if err == sql.ErrNoRows {
		return domain.ReviewerDecision{}, ErrNotFound
	}
	if err != nil {
		return domain.ReviewerDecision{}, err
	}
	var d domain.ReviewerDecision
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return domain.ReviewerDecision{}, fmt.Errorf("unmarshal decision: %w", err)
	}
	return d, nil
}

func (s *SQLite) PurgeClaim(ctx context.Context, claimID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_events WHERE run_id IN (SELECT id FROM runs WHERE claim_id=?)`, claimID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE claim_id=?`, claimID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM claim_events WHERE claim_id=?`, claimID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM decisions WHERE claim_id=?`, claimID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM claims WHERE id=?`, claimID); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
