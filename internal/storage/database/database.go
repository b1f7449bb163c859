package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	// 注册 database/sql 驱动。
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	xerrors "ExoLab-Agents/internal/errors"
)

// Dialect 标识底层数据库的 SQL 方言。
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect 将配置中的驱动名转换为方言。
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的数据库驱动: %s", driver))
	}
}

func (d Dialect) driverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	case DialectMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

// Config 描述数据库连接参数。
type Config struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DB 封装 *sql.DB 并记录其方言，用于生成占位符与选择迁移脚本。
type DB struct {
	*sql.DB
	dialect Dialect
}

// Wrap 使用已有连接构造 DB，主要用于测试。
func Wrap(db *sql.DB, dialect Dialect) *DB {
	return &DB{DB: db, dialect: dialect}
}

// Open 建立连接池并执行连通性检查。
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库 DSN 不能为空")
	}

	db, err := sql.Open(cfg.Dialect.driverName(), cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("连接 %s 失败", cfg.Dialect))
	}

	if cfg.Dialect == DialectSQLite {
		// SQLite 同一时间只允许一个写连接，内存库在多连接下也无法共享数据。
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("无法连接到 %s", cfg.Dialect))
	}
	return &DB{DB: db, dialect: cfg.Dialect}, nil
}

// Dialect 返回连接的 SQL 方言。
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Rebind 将 ? 占位符改写为当前方言的形式。
func (db *DB) Rebind(query string) string {
	return Rebind(db.dialect, query)
}

// Rebind 将 ? 占位符改写为 Postgres 的 $n 形式，其余方言原样返回。
// 单引号内的问号不会被替换。
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			quoted = !quoted
			b.WriteByte(ch)
		case ch == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
