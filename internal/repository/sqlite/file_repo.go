package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/repository"
)

// fileRepository implements repository.FileRepository for SQLite.
type fileRepository struct {
	db *DB
}

// NewFileRepository creates a new SQLite file repository.
func NewFileRepository(db *DB) repository.FileRepository {
	return &fileRepository{db: db}
}

// Create inserts the record and increments the referenced blob's count in one
// transaction. Either both land or neither does: there is no window where a
// record exists without its reference being counted.
func (r *fileRepository) Create(ctx context.Context, file *domain.FileRecord) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE blobs SET ref_count = ref_count + 1 WHERE digest = ?`,
			file.BlobDigest,
		)
		if err != nil {
			return fmt.Errorf("failed to increment blob ref count: %w", err)
		}
		rowsAffected, _ := result.RowsAffected()
		if rowsAffected == 0 {
			return domain.ErrBlobNotFound
		}

		tagsJSON, err := marshalTags(file.Tags)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO files (id, owner_id, filename, declared_mime, is_public, tags, blob_digest, size, download_count, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		`,
			file.ID.String(),
			file.OwnerID,
			file.Filename,
			file.DeclaredMime,
			boolToInt(file.IsPublic),
			tagsJSON,
			file.BlobDigest,
			file.Size,
			file.UploadedAt.Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("failed to create file record: %w", err)
		}

		return nil
	})
}

// GetByID retrieves a file record by ID.
func (r *fileRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.FileRecord, error) {
	query := `
		SELECT id, owner_id, filename, declared_mime, is_public, tags, blob_digest, size, download_count, uploaded_at
		FROM files
		WHERE id = ?
	`
	return scanFile(r.db.QueryRowContext(ctx, query, id.String()))
}

// Update applies a partial update. Nil patch fields are left untouched.
func (r *fileRepository) Update(ctx context.Context, id uuid.UUID, patch domain.FileUpdate) (*domain.FileRecord, error) {
	if patch.IsEmpty() {
		return r.GetByID(ctx, id)
	}

	sets := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)

	if patch.Filename != nil {
		sets = append(sets, "filename = ?")
		args = append(args, *patch.Filename)
	}
	if patch.IsPublic != nil {
		sets = append(sets, "is_public = ?")
		args = append(args, boolToInt(*patch.IsPublic))
	}
	if patch.Tags != nil {
		tagsJSON, err := marshalTags(*patch.Tags)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "tags = ?")
		args = append(args, tagsJSON)
	}

	args = append(args, id.String())
	query := fmt.Sprintf(`UPDATE files SET %s WHERE id = ?`, strings.Join(sets, ", "))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update file record: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return nil, domain.ErrFileNotFound
	}

	return r.GetByID(ctx, id)
}

// Delete removes the record and decrements its blob's reference count in one
// transaction. The ref_count > 0 guard protects the no-negative invariant
// even if bookkeeping is broken elsewhere.
func (r *fileRepository) Delete(ctx context.Context, id uuid.UUID) (string, int32, error) {
	var digest string
	var newRefCount int32

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT blob_digest FROM files WHERE id = ?`, id.String(),
		).Scan(&digest)
		if err != nil {
			if isNoRows(err) {
				return domain.ErrFileNotFound
			}
			return fmt.Errorf("failed to read file record: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id.String()); err != nil {
			return fmt.Errorf("failed to delete file record: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE blobs SET ref_count = ref_count - 1 WHERE digest = ? AND ref_count > 0`,
			digest,
		)
		if err != nil {
			return fmt.Errorf("failed to decrement blob ref count: %w", err)
		}
		rowsAffected, _ := result.RowsAffected()
		if rowsAffected == 0 {
			return domain.NewDomainError(domain.ErrRefCountNegative, "file delete", digest)
		}

		err = tx.QueryRowContext(ctx, `SELECT ref_count FROM blobs WHERE digest = ?`, digest).Scan(&newRefCount)
		if err != nil {
			return fmt.Errorf("failed to read new ref count: %w", err)
		}

		return nil
	})
	if err != nil {
		return "", 0, err
	}

	return digest, newRefCount, nil
}

// List returns file records matching the filter, sorted with an id tie-break
// so offset-based pagination is deterministic.
func (r *fileRepository) List(ctx context.Context, filter repository.FileFilter, opts repository.ListOptions) (*repository.ListResult[domain.FileRecord], error) {
	where, args := buildFileFilter(filter)

	countQuery := `SELECT COUNT(*) FROM files f` + filterJoin(filter) + where
	var total int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT f.id, f.owner_id, f.filename, f.declared_mime, f.is_public, f.tags, f.blob_digest, f.size, f.download_count, f.uploaded_at
		FROM files f` + filterJoin(filter) + where + orderClause(opts) + ` LIMIT ? OFFSET ?`

	queryArgs := append(append([]interface{}{}, args...), limit, opts.Offset)

	rows, err := r.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*domain.FileRecord
	for rows.Next() {
		file, err := scanFileRows(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}

	return &repository.ListResult[domain.FileRecord]{
		Items:  files,
		Total:  total,
		Offset: opts.Offset,
		Limit:  limit,
	}, nil
}

// IncrementDownloadCount bumps the download counter. Best-effort.
func (r *fileRepository) IncrementDownloadCount(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE files SET download_count = download_count + 1 WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to increment download count: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}

// CountByDigest returns the number of records referencing a digest.
func (r *fileRepository) CountByDigest(ctx context.Context, digest string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE blob_digest = ?`, digest).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count files by digest: %w", err)
	}
	return count, nil
}

// =============================================================================
// Helpers
// =============================================================================

// filterJoin returns the join clause needed by the filter.
func filterJoin(filter repository.FileFilter) string {
	if filter.UploaderEmail != "" {
		return ` JOIN users u ON u.id = f.owner_id`
	}
	return ``
}

// buildFileFilter turns a FileFilter into a WHERE clause and its arguments.
func buildFileFilter(filter repository.FileFilter) (string, []interface{}) {
	conds := make([]string, 0, 6)
	args := make([]interface{}, 0, 6)

	if filter.OwnerID > 0 {
		conds = append(conds, "f.owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.OnlyPublic {
		conds = append(conds, "f.is_public = 1")
	}
	if filter.Search != "" {
		conds = append(conds, "f.filename LIKE ? COLLATE NOCASE")
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.MimeType != "" {
		conds = append(conds, "f.declared_mime = ?")
		args = append(args, filter.MimeType)
	}
	if filter.MinSize > 0 {
		conds = append(conds, "f.size >= ?")
		args = append(args, filter.MinSize)
	}
	if filter.MaxSize > 0 {
		conds = append(conds, "f.size <= ?")
		args = append(args, filter.MaxSize)
	}
	for _, tag := range filter.Tags {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(f.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}
	if filter.UploaderEmail != "" {
		conds = append(conds, "u.email = ?")
		args = append(args, filter.UploaderEmail)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// orderClause builds the ORDER BY clause with an id tie-break.
func orderClause(opts repository.ListOptions) string {
	column := "f.uploaded_at"
	switch opts.SortBy {
	case domain.SortByName:
		column = "f.filename"
	case domain.SortBySize:
		column = "f.size"
	case domain.SortByDate:
		column = "f.uploaded_at"
	}

	direction := "ASC"
	if opts.Descending {
		direction = "DESC"
	}

	return fmt.Sprintf(" ORDER BY %s %s, f.id %s", column, direction, direction)
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row *sql.Row) (*domain.FileRecord, error) {
	file, err := scanFileFrom(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrFileNotFound
		}
		return nil, err
	}
	return file, nil
}

func scanFileRows(rows *sql.Rows) (*domain.FileRecord, error) {
	return scanFileFrom(rows)
}

func scanFileFrom(s rowScanner) (*domain.FileRecord, error) {
	file := &domain.FileRecord{}
	var idStr, tagsJSON, uploadedAt string
	var isPublic int

	err := s.Scan(
		&idStr,
		&file.OwnerID,
		&file.Filename,
		&file.DeclaredMime,
		&isPublic,
		&tagsJSON,
		&file.BlobDigest,
		&file.Size,
		&file.DownloadCount,
		&uploadedAt,
	)
	if err != nil {
		return nil, err
	}

	file.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid file id %q: %w", idStr, err)
	}
	file.IsPublic = isPublic != 0
	if err := json.Unmarshal([]byte(tagsJSON), &file.Tags); err != nil {
		return nil, fmt.Errorf("invalid tags for file %s: %w", idStr, err)
	}
	file.UploadedAt, _ = time.Parse(timeLayout, uploadedAt)

	return file, nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure fileRepository implements repository.FileRepository.
var _ repository.FileRepository = (*fileRepository)(nil)
