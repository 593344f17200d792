// Package repository 提供数据访问层
package repository

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/paiban/staffplan/internal/database"
)

// Schema 建表语句
//
//go:embed schema.sql
var Schema string

// Migrate 逐条执行建表语句，已存在的表不受影响
func Migrate(ctx context.Context, db *database.DB) error {
	for _, stmt := range statements(Schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("执行建表语句失败: %w", err)
		}
	}
	return nil
}

func statements(schema string) []string {
	var out []string
	for _, part := range strings.Split(schema, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
