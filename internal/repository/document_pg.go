package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/feichai0017/waybill-processor/internal/models"
)

// PGDocumentRepo implements DocumentRepository on PostgreSQL.
type PGDocumentRepo struct {
	DB *sql.DB
}

func NewPGDocumentRepo(db *sql.DB) *PGDocumentRepo {
	return &PGDocumentRepo{DB: db}
}

const documentColumns = `id, telegram_chat_id, telegram_file_id, photo_path, ocr_data, ocr_raw, confidence, status,
    error_reason, bitrix_status, bitrix_payload, bitrix_response, bitrix_error, bitrix_sent_at,
    confirmed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// InsertReceived creates a document in status received and returns its id.
func (r *PGDocumentRepo) InsertReceived(ctx context.Context, chatID int64, fileID, photoPath string) (int64, error) {
	const query = `
INSERT INTO transport_documents (telegram_chat_id, telegram_file_id, photo_path, status)
VALUES ($1, $2, $3, 'received')
RETURNING id`
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, chatID, fileID, nullString(photoPath)).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert document: %w", err)
	}
	return id, nil
}

func (r *PGDocumentRepo) Get(ctx context.Context, id int64) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM transport_documents WHERE id = $1`
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to load document %d: %w", id, err)
	}
	return doc, nil
}

// Update locks the row, applies fn and writes every mutable column back in one transaction.
func (r *PGDocumentRepo) Update(ctx context.Context, id int64, fn MutateFunc) (doc *models.Document, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	query := `SELECT ` + documentColumns + ` FROM transport_documents WHERE id = $1 FOR UPDATE`
	doc, err = scanDocument(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = models.ErrDocumentNotFound
		}
		return nil, err
	}

	if err = fn(doc); err != nil {
		return nil, err
	}

	fields, err := marshalNullable(doc.Fields)
	if err != nil {
		return nil, err
	}
	const update = `
UPDATE transport_documents
SET ocr_data = $2,
    ocr_raw = $3,
    confidence = $4,
    status = $5,
    error_reason = $6,
    bitrix_status = $7,
    bitrix_payload = $8,
    bitrix_response = $9,
    bitrix_error = $10,
    bitrix_sent_at = $11,
    confirmed_at = $12,
    updated_at = now()
WHERE id = $1
RETURNING updated_at`
	err = tx.QueryRowContext(ctx, update,
		id,
		fields,
		nullString(string(doc.Raw)),
		doc.Confidence,
		string(doc.Status),
		nullString(doc.Reason),
		nullString(doc.Delivery.Status),
		nullJSON(doc.Delivery.Payload),
		nullJSON(doc.Delivery.Response),
		nullString(doc.Delivery.Error),
		doc.Delivery.SentAt,
		doc.ConfirmedAt,
	).Scan(&doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update document %d: %w", id, err)
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return doc, nil
}

// List returns documents matching filter, newest first.
func (r *PGDocumentRepo) List(ctx context.Context, filter ListFilter) ([]*models.Document, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		ph := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			args = append(args, string(s))
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, "status IN ("+strings.Join(ph, ", ")+")")
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := `SELECT ` + documentColumns + ` FROM transport_documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc         models.Document
		photoPath   sql.NullString
		ocrData     []byte
		ocrRaw      sql.NullString
		status      string
		reason      sql.NullString
		bxStatus    sql.NullString
		bxPayload   []byte
		bxResponse  []byte
		bxError     sql.NullString
		bxSentAt    sql.NullTime
		confirmedAt sql.NullTime
	)
	err := row.Scan(
		&doc.ID,
		&doc.ChatID,
		&doc.FileID,
		&photoPath,
		&ocrData,
		&ocrRaw,
		&doc.Confidence,
		&status,
		&reason,
		&bxStatus,
		&bxPayload,
		&bxResponse,
		&bxError,
		&bxSentAt,
		&confirmedAt,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.PhotoPath = photoPath.String
	doc.Status = models.Status(status)
	doc.Reason = reason.String
	if len(ocrData) > 0 && string(ocrData) != "null" {
		var fields models.OcrFields
		if err := json.Unmarshal(ocrData, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode ocr_data of document %d: %w", doc.ID, err)
		}
		doc.Fields = &fields
	}
	if ocrRaw.Valid {
		doc.Raw = json.RawMessage(ocrRaw.String)
	}
	doc.Delivery.Status = bxStatus.String
	doc.Delivery.Error = bxError.String
	if len(bxPayload) > 0 {
		doc.Delivery.Payload = json.RawMessage(bxPayload)
	}
	if len(bxResponse) > 0 {
		doc.Delivery.Response = json.RawMessage(bxResponse)
	}
	if bxSentAt.Valid {
		doc.Delivery.SentAt = &bxSentAt.Time
	}
	if confirmedAt.Valid {
		doc.ConfirmedAt = &confirmedAt.Time
	}
	return &doc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func marshalNullable(v *models.OcrFields) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ocr fields: %w", err)
	}
	return b, nil
}
