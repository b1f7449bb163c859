package job

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/storage/database"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

const jobColumns = `id, kind, payload, status, attempts, max_retries, last_error, error_code, result, created_at, updated_at, retryable`

// SQLStore 使用关系型数据库记录任务状态，支持 Postgres、MySQL 与 SQLite。
type SQLStore struct {
	db   *database.DB
	now  func() time.Time
	opts storeOptions
}

// NewSQLStore 基于已迁移的连接创建 SQLStore。
func NewSQLStore(db *database.DB, opts ...StoreOption) *SQLStore {
	return &SQLStore{db: db, now: time.Now, opts: buildStoreOptions(opts)}
}

// Create 插入新的任务记录。
func (s *SQLStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if strings.TrimSpace(job.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := s.now().Unix()
	job.CreatedAt = now
	job.UpdatedAt = now

	const stmt = `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, '', '', NULL, ?, ?, 0)`
	_, err := s.db.ExecContext(ctx, s.db.Rebind(stmt),
		job.ID,
		job.Kind,
		string(job.Payload),
		string(job.Status),
		job.Attempts,
		job.MaxRetries,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	job, err := scanJob(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return job, nil
}

// Claim 通过条件更新领取任务，未命中时根据当前状态返回对应错误。
func (s *SQLStore) Claim(ctx context.Context, id string) (*Job, error) {
	const stmt = `UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = '', retryable = 0
        WHERE id = ? AND attempts < max_retries
        AND (status = ? OR (status = ? AND retryable = 1) OR (status = ? AND updated_at <= ?))`

	now := s.now()
	staleBefore := s.opts.staleBefore(now)
	res, err := s.db.ExecContext(ctx, s.db.Rebind(stmt),
		string(StatusRunning),
		now.Unix(),
		id,
		string(StatusPending),
		string(StatusFailed),
		string(StatusRunning),
		staleBefore,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return job, nil
	}
	switch {
	case job.Status == StatusSucceeded:
		return job, ErrJobCompleted
	case job.Status == StatusRunning && job.UpdatedAt > staleBefore:
		return job, ErrJobConflict
	case job.Status == StatusRunning:
		// 租约过期但已没有重试次数，收尾为最终失败。
		if err := s.MarkFailed(ctx, id, CodeJobProcessing, leaseExpiredMessage, false); err != nil {
			return nil, err
		}
		if job, err = s.Get(ctx, id); err != nil {
			return nil, err
		}
		return job, ErrJobExhausted
	case job.Status == StatusFailed && !job.Retryable, job.Attempts >= job.MaxRetries:
		return job, ErrJobExhausted
	default:
		return job, ErrJobConflict
	}
}

// MarkSucceeded 将任务标记为成功并写入结果。
func (s *SQLStore) MarkSucceeded(ctx context.Context, id string, result json.RawMessage) error {
	const stmt = `UPDATE jobs SET status = ?, result = ?, updated_at = ?, last_error = '', error_code = '', retryable = 0 WHERE id = ?`
	res, err := s.db.ExecContext(ctx, s.db.Rebind(stmt),
		string(StatusSucceeded),
		nullableRaw(result),
		s.now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkFailed 将任务标记为失败。
func (s *SQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, retryable bool) error {
	const stmt = `UPDATE jobs SET status = ?, last_error = ?, error_code = ?, retryable = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, s.db.Rebind(stmt),
		string(StatusFailed),
		lastError,
		string(code),
		boolToInt(retryable),
		s.now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// List 返回符合条件的任务。
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()

	query := `SELECT ` + jobColumns + ` FROM jobs`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	jobs := make([]*Job, 0, opts.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return jobs, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *SQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(MIN(updated_at), 0),
        COALESCE(MAX(updated_at), 0)
        FROM jobs`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, s.db.Rebind(query), args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job       Job
		status    string
		payload   string
		result    sql.NullString
		retryable int
	)
	if err := row.Scan(
		&job.ID,
		&job.Kind,
		&payload,
		&status,
		&job.Attempts,
		&job.MaxRetries,
		&job.LastError,
		&job.ErrorCode,
		&result,
		&job.CreatedAt,
		&job.UpdatedAt,
		&retryable,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.Retryable = retryable != 0
	if payload != "" {
		job.Payload = json.RawMessage(payload)
	}
	if result.Valid && result.String != "" {
		job.Result = json.RawMessage(result.String)
	}
	return &job, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", placeholders(len(opts.Statuses))))
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	if len(opts.Kinds) > 0 {
		conditions = append(conditions, fmt.Sprintf("kind IN (%s)", placeholders(len(opts.Kinds))))
		for _, kind := range opts.Kinds {
			args = append(args, kind)
		}
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.Query != "" {
		pattern := "%" + strings.ToLower(opts.Query) + "%"
		conditions = append(conditions, "(LOWER(id) LIKE ? OR LOWER(kind) LIKE ? OR LOWER(payload) LIKE ? OR LOWER(last_error) LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if stdErrors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Store = (*SQLStore)(nil)
