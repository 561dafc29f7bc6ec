package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"readsync/server/sessiond/domain"
)

type AnnotationRepository struct {
	pool *pgxpool.Pool
}

func NewAnnotationRepository(pool *pgxpool.Pool) *AnnotationRepository {
	return &AnnotationRepository{pool: pool}
}

const annotationSelect = `
	SELECT annotation_id, session_id, user_id, document_id, payload, page_number,
	       visibility, hide_author, created_at, updated_at
	FROM session_annotations`

// Upsert creates the annotation unless a row with the same natural key
// (session, user, payload key) already exists, in which case the existing
// row is refreshed and returned. Retried creates therefore never duplicate.
func (r *AnnotationRepository) Upsert(ctx context.Context, annotation domain.SessionAnnotation) (domain.SessionAnnotation, error) {
	payload, err := json.Marshal(annotation.Payload)
	if err != nil {
		return domain.SessionAnnotation{}, err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO session_annotations(annotation_id, session_id, user_id, document_id, payload, payload_key, page_number, visibility, hide_author)
		VALUES($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
		ON CONFLICT (session_id, user_id, payload_key)
		DO UPDATE SET payload = EXCLUDED.payload, page_number = EXCLUDED.page_number,
		              visibility = EXCLUDED.visibility, hide_author = EXCLUDED.hide_author,
		              updated_at = NOW()
		RETURNING annotation_id, created_at, updated_at
	`, annotation.ID, annotation.SessionID, annotation.UserID, annotation.DocumentID,
		string(payload), annotation.Payload.Key, annotation.PageNumber, annotation.Visibility, annotation.HideAuthor).
		Scan(&annotation.ID, &annotation.CreatedAt, &annotation.UpdatedAt)
	if err != nil {
		return domain.SessionAnnotation{}, err
	}
	return annotation, nil
}

func (r *AnnotationRepository) FindByKey(ctx context.Context, sessionID, key string) (domain.SessionAnnotation, error) {
	row := r.pool.QueryRow(ctx, annotationSelect+`
		WHERE session_id = $1 AND payload_key = $2
		ORDER BY created_at
		LIMIT 1`, sessionID, key)
	return scanAnnotation(row)
}

// ListCreatedAfter returns annotations created strictly after the watermark,
// oldest first, filtered server-side so private annotations only reach
// their owner.
func (r *AnnotationRepository) ListCreatedAfter(ctx context.Context, sessionID string, after time.Time, viewerID string) ([]domain.SessionAnnotation, error) {
	rows, err := r.pool.Query(ctx, annotationSelect+`
		WHERE session_id = $1
		  AND created_at > $2
		  AND (visibility = 'public' OR user_id = $3)
		ORDER BY created_at
	`, sessionID, after, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var annotations []domain.SessionAnnotation
	for rows.Next() {
		annotation, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, annotation)
	}
	return annotations, rows.Err()
}

func (r *AnnotationRepository) DeleteByKey(ctx context.Context, sessionID, userID, key string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM session_annotations
		WHERE session_id = $1 AND user_id = $2 AND payload_key = $3
	`, sessionID, userID, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRow
	}
	return nil
}

// DeleteByUser bulk-deletes everything one user shared into a session,
// used when the user leaves or logs out.
func (r *AnnotationRepository) DeleteByUser(ctx context.Context, sessionID, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM session_annotations
		WHERE session_id = $1 AND user_id = $2
	`, sessionID, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *AnnotationRepository) ListAll(ctx context.Context, sessionID string) ([]domain.SessionAnnotation, error) {
	rows, err := r.pool.Query(ctx, annotationSelect+` WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var annotations []domain.SessionAnnotation
	for rows.Next() {
		annotation, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, annotation)
	}
	return annotations, rows.Err()
}

func scanAnnotation(row pgx.Row) (domain.SessionAnnotation, error) {
	var annotation domain.SessionAnnotation
	var payloadRaw []byte
	err := row.Scan(
		&annotation.ID,
		&annotation.SessionID,
		&annotation.UserID,
		&annotation.DocumentID,
		&payloadRaw,
		&annotation.PageNumber,
		&annotation.Visibility,
		&annotation.HideAuthor,
		&annotation.CreatedAt,
		&annotation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SessionAnnotation{}, ErrNoRow
		}
		return domain.SessionAnnotation{}, err
	}
	if len(payloadRaw) > 0 {
		_ = json.Unmarshal(payloadRaw, &annotation.Payload)
	}
	return annotation, nil
}
