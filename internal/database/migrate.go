// Package database はデータベース接続とmedicinesスキーマのマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// DirtyError は前回のマイグレーションが途中で失敗し、スキーマがダーティ状態であることを表す。
// 手動で修復した後に migrate force <Version> でフラグを解除する必要がある。
type DirtyError struct {
	Version uint
}

func (e *DirtyError) Error() string {
	return fmt.Sprintf("schema is dirty at version %d; fix it manually and force the version", e.Version)
}

// MigrationResult はRunMigrations実行前後のスキーマバージョン。
// 未適用の場合のバージョンは0。
type MigrationResult struct {
	From uint
	To   uint
}

// Applied は今回の実行で新たなマイグレーションが適用されたかを返す。
func (r MigrationResult) Applied() bool {
	return r.To != r.From
}

func newSource() (source.Driver, error) {
	src, err := iofs.New(migrationsFS, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}
	return src, nil
}

// NewMigrator は埋め込みSQLを使うmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := newSource()
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// LatestVersion は埋め込まれたマイグレーションの最新バージョンを返す。
func LatestVersion() (uint, error) {
	src, err := newSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("no embedded migrations: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read migration after version %d: %w", v, err)
		}
		v = next
	}
}

// RunMigrations は未適用のマイグレーションをすべて適用し、前後のバージョンを返す。
// すでに最新の場合はエラーなしで返る。
// スキーマがダーティ状態の場合は *DirtyError を返し、何も適用しない。
func RunMigrations(databaseURL string, logger *slog.Logger) (MigrationResult, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	from, err := schemaVersion(m)
	result := MigrationResult{From: from, To: from}
	if err != nil {
		return result, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return result, &DirtyError{Version: uint(dirty.Version)}
		}
		return result, fmt.Errorf("failed to run migrations: %w", err)
	}

	to, err := schemaVersion(m)
	if err != nil {
		return result, err
	}
	result.To = to

	if result.Applied() {
		logger.Info("マイグレーションを適用しました",
			slog.Uint64("from_version", uint64(result.From)),
			slog.Uint64("to_version", uint64(result.To)),
		)
	} else {
		logger.Info("スキーマは最新です", slog.Uint64("version", uint64(result.To)))
	}
	return result, nil
}

// schemaVersion は適用済みのバージョンを返す。未適用なら0。
func schemaVersion(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return v, &DirtyError{Version: v}
	}
	return v, nil
}
