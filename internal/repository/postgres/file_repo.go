package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/repository"
)

// fileRepository implements repository.FileRepository for PostgreSQL.
type fileRepository struct {
	db *DB
}

// NewFileRepository creates a new PostgreSQL file repository.
func NewFileRepository(db *DB) repository.FileRepository {
	return &fileRepository{db: db}
}

// Create inserts the record and increments the referenced blob's count in one
// transaction. Either both land or neither does.
func (r *fileRepository) Create(ctx context.Context, file *domain.FileRecord) error {
	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx,
			`UPDATE blobs SET ref_count = ref_count + 1 WHERE digest = $1`,
			file.BlobDigest,
		)
		if err != nil {
			return fmt.Errorf("failed to increment blob ref count: %w", err)
		}
		if result.RowsAffected() == 0 {
			return domain.ErrBlobNotFound
		}

		tags := file.Tags
		if tags == nil {
			tags = []string{}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO files (id, owner_id, filename, declared_mime, is_public, tags, blob_digest, size, download_count, uploaded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)
		`,
			file.ID,
			file.OwnerID,
			file.Filename,
			file.DeclaredMime,
			file.IsPublic,
			tags,
			file.BlobDigest,
			file.Size,
			file.UploadedAt,
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
		WHERE id = $1
	`
	file, err := scanFileRow(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return file, nil
}

// Update applies a partial update. Nil patch fields are left untouched.
func (r *fileRepository) Update(ctx context.Context, id uuid.UUID, patch domain.FileUpdate) (*domain.FileRecord, error) {
	if patch.IsEmpty() {
		return r.GetByID(ctx, id)
	}

	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if patch.Filename != nil {
		args = append(args, *patch.Filename)
		sets = append(sets, fmt.Sprintf("filename = $%d", len(args)))
	}
	if patch.IsPublic != nil {
		args = append(args, *patch.IsPublic)
		sets = append(sets, fmt.Sprintf("is_public = $%d", len(args)))
	}
	if patch.Tags != nil {
		tags := *patch.Tags
		if tags == nil {
			tags = []string{}
		}
		args = append(args, tags)
		sets = append(sets, fmt.Sprintf("tags = $%d", len(args)))
	}

	args = append(args, id)
	query := fmt.Sprintf(`
		UPDATE files SET %s WHERE id = $%d
		RETURNING id, owner_id, filename, declared_mime, is_public, tags, blob_digest, size, download_count, uploaded_at
	`, strings.Join(sets, ", "), len(args))

	file, err := scanFileRow(r.db.Pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to update file record: %w", err)
	}
	return file, nil
}

// Delete removes the record and decrements its blob's reference count in one
// transaction. The ref_count > 0 guard protects the no-negative invariant.
func (r *fileRepository) Delete(ctx context.Context, id uuid.UUID) (string, int32, error) {
	var digest string
	var newRefCount int32

	err := r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`DELETE FROM files WHERE id = $1 RETURNING blob_digest`, id,
		).Scan(&digest)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrFileNotFound
			}
			return fmt.Errorf("failed to delete file record: %w", err)
		}

		err = tx.QueryRow(ctx,
			`UPDATE blobs SET ref_count = ref_count - 1 WHERE digest = $1 AND ref_count > 0 RETURNING ref_count`,
			digest,
		).Scan(&newRefCount)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.NewDomainError(domain.ErrRefCountNegative, "file delete", digest)
			}
			return fmt.Errorf("failed to decrement blob ref count: %w", err)
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
	join := filterJoin(filter)

	countQuery := `SELECT COUNT(*) FROM files f` + join + where
	var total int64
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT f.id, f.owner_id, f.filename, f.declared_mime, f.is_public, f.tags, f.blob_digest, f.size, f.download_count, f.uploaded_at
		FROM files f%s%s%s LIMIT $%d OFFSET $%d`,
		join, where, orderClause(opts), len(args)+1, len(args)+2)

	queryArgs := append(append([]any{}, args...), limit, opts.Offset)

	rows, err := r.db.Pool.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*domain.FileRecord
	for rows.Next() {
		file, err := scanFileRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
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
	result, err := r.db.Pool.Exec(ctx,
		`UPDATE files SET download_count = download_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment download count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}

// CountByDigest returns the number of records referencing a digest.
func (r *fileRepository) CountByDigest(ctx context.Context, digest string) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM files WHERE blob_digest = $1`, digest).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count files by digest: %w", err)
	}
	return count, nil
}

// filterJoin returns the join clause needed by the filter.
func filterJoin(filter repository.FileFilter) string {
	if filter.UploaderEmail != "" {
		return ` JOIN users u ON u.id = f.owner_id`
	}
	return ``
}

// buildFileFilter turns a FileFilter into a WHERE clause and its arguments.
func buildFileFilter(filter repository.FileFilter) (string, []any) {
	conds := make([]string, 0, 6)
	args := make([]any, 0, 6)

	next := func() int { return len(args) }

	if filter.OwnerID > 0 {
		args = append(args, filter.OwnerID)
		conds = append(conds, fmt.Sprintf("f.owner_id = $%d", next()))
	}
	if filter.OnlyPublic {
		conds = append(conds, "f.is_public")
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conds = append(conds, fmt.Sprintf("f.filename ILIKE $%d", next()))
	}
	if filter.MimeType != "" {
		args = append(args, filter.MimeType)
		conds = append(conds, fmt.Sprintf("f.declared_mime = $%d", next()))
	}
	if filter.MinSize > 0 {
		args = append(args, filter.MinSize)
		conds = append(conds, fmt.Sprintf("f.size >= $%d", next()))
	}
	if filter.MaxSize > 0 {
		args = append(args, filter.MaxSize)
		conds = append(conds, fmt.Sprintf("f.size <= $%d", next()))
	}
	if len(filter.Tags) > 0 {
		args = append(args, filter.Tags)
		conds = append(conds, fmt.Sprintf("f.tags @> $%d", next()))
	}
	if filter.UploaderEmail != "" {
		args = append(args, filter.UploaderEmail)
		conds = append(conds, fmt.Sprintf("u.email = $%d", next()))
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

// scanFileRow reads a single file row from either a pgx.Row or pgx.Rows.
func scanFileRow(row pgx.Row) (*domain.FileRecord, error) {
	file := &domain.FileRecord{}
	err := row.Scan(
		&file.ID,
		&file.OwnerID,
		&file.Filename,
		&file.DeclaredMime,
		&file.IsPublic,
		&file.Tags,
		&file.BlobDigest,
		&file.Size,
		&file.DownloadCount,
		&file.UploadedAt,
	)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// Ensure fileRepository implements repository.FileRepository
var _ repository.FileRepository = (*fileRepository)(nil)
