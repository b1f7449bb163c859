package database

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"ExoLab-Agents/deploy/migrations"
	xerrors "ExoLab-Agents/internal/errors"
)

var embeddedMigrations fs.FS = migrations.Files

type migrationFile struct {
	version    string
	name       string
	statements []string
}

// Migrate 执行当前方言目录下尚未应用的迁移脚本。
func (db *DB) Migrate(ctx context.Context) error {
	return db.MigrateDir(ctx, string(db.dialect))
}

// MigrateDir 执行指定目录下的迁移脚本，版本号带目录前缀，不同目录可以共用一个库。
func (db *DB) MigrateDir(ctx context.Context, dir string) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(64) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 schema_migrations 表失败")
	}

	applied, err := db.loadAppliedVersions(ctx)
	if err != nil {
		return err
	}

	files, err := loadMigrationFiles(embeddedMigrations, dir)
	if err != nil {
		return err
	}
	for _, migration := range files {
		if _, ok := applied[migration.version]; ok {
			continue
		}
		if err := db.applyMigration(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) loadAppliedVersions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 schema_migrations 失败")
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 schema_migrations 失败")
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 schema_migrations 失败")
	}
	return applied, nil
}

func (db *DB) applyMigration(ctx context.Context, migration migrationFile) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启迁移事务失败")
	}

	for _, stmt := range migration.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("执行迁移 %s 失败", migration.name))
		}
	}

	insert := db.Rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`)
	if _, err := tx.ExecContext(ctx, insert, migration.version, time.Now().Unix()); err != nil {
		_ = tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录迁移版本失败")
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交迁移事务失败")
	}
	return nil
}

func loadMigrationFiles(fsys fs.FS, dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("读取迁移目录 %s 失败", dir))
	}

	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := path.Join(dir, entry.Name())
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("读取迁移文件 %s 失败", name))
		}
		statements := splitSQLStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		files = append(files, migrationFile{
			version:    dir + "/" + parseMigrationVersion(entry.Name()),
			name:       name,
			statements: statements,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].version == files[j].version {
			return files[i].name < files[j].name
		}
		return files[i].version < files[j].version
	})
	return files, nil
}

func splitSQLStatements(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func parseMigrationVersion(name string) string {
	if idx := strings.IndexRune(name, '_'); idx > 0 {
		return name[:idx]
	}
	if dot := strings.IndexRune(name, '.'); dot > 0 {
		return name[:dot]
	}
	return name
}
