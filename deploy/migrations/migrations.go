package migrations

import "embed"

// Files 按方言分目录保存 SQL 迁移脚本，vector 目录用于 pgvector 检索库。
//
//go:embed postgres/*.sql mysql/*.sql sqlite/*.sql vector/*.sql
var Files embed.FS
