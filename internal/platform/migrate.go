package platform

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// pendingMigration is a single discovered, unapplied migration file.
type pendingMigration struct {
	version  int
	filename string
	path     string
}

// RunMigrations applies every pending NNN_description.sql file in dir, in
// ascending version order, recording an MD5 checksum for each in
// schema_migrations. It aborts on the first failing migration — later files
// are never attempted. After each migration it re-counts critical rows and
// warns (never aborts) if users or CPF-bound users dropped by more than 5%.
func RunMigrations(db *sql.DB, dir string, logger *slog.Logger) error {
	if err := initMigrationsTable(db); err != nil {
		return fmt.Errorf("initializing schema_migrations: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}

	available, err := discoverMigrations(dir)
	if err != nil {
		return fmt.Errorf("discovering migrations: %w", err)
	}

	for _, m := range available {
		if applied[m.version] {
			continue
		}

		before, err := countCriticalRecords(db)
		if err != nil {
			logger.Warn("migration: could not count records before applying", "version", m.version, "error", err)
		}

		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("applying migration %03d (%s): %w", m.version, m.filename, err)
		}

		after, err := countCriticalRecords(db)
		if err != nil {
			logger.Warn("migration: could not count records after applying", "version", m.version, "error", err)
		} else {
			warnOnDataLoss(logger, m.version, before, after)
		}

		logger.Info("migration applied", "version", m.version, "filename", m.filename)
	}

	return nil
}

func initMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			filename TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			checksum TEXT
		)
	`)
	return err
}

func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func discoverMigrations(dir string) ([]pendingMigration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []pendingMigration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(e.Name(), "_", 2)
		if len(parts) == 0 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue // not NNN_description.sql — ignore silently, like the original tool
		}
		out = append(out, pendingMigration{
			version:  version,
			filename: e.Name(),
			path:     filepath.Join(dir, e.Name()),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func applyMigration(db *sql.DB, m pendingMigration) error {
	content, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	sum := md5.Sum(content)
	checksum := hex.EncodeToString(sum[:])

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(string(content)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing statement: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (version, filename, checksum) VALUES (?, ?, ?)`,
		m.version, m.filename, checksum,
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	return tx.Commit()
}

// splitStatements is a conservative statement splitter for migration files:
// one statement per semicolon at end-of-line. Migration files are expected
// not to embed semicolons inside string literals or triggers spanning
// multiple statements other than via BEGIN...END blocks kept on one line.
func splitStatements(content string) []string {
	return strings.Split(content, ";\n")
}

type criticalCounts struct {
	totalUsers   int
	usersWithCPF int
}

func countCriticalRecords(db *sql.DB) (criticalCounts, error) {
	var c criticalCounts
	if err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&c.totalUsers); err != nil {
		if !tableMissing(err) {
			return c, err
		}
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM users WHERE cpf IS NOT NULL`).Scan(&c.usersWithCPF); err != nil {
		if !tableMissing(err) {
			return c, err
		}
	}
	return c, nil
}

func tableMissing(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// warnOnDataLoss implements the "warn and proceed" resolution of the spec's
// migration data-loss Open Question: a drop of more than 5% in users or
// CPF-bound users is logged at warn, never aborts the run.
func warnOnDataLoss(logger *slog.Logger, version int, before, after criticalCounts) {
	checkDrop := func(label string, beforeN, afterN int) {
		if beforeN == 0 {
			return
		}
		lossPct := float64(beforeN-afterN) / float64(beforeN) * 100
		if lossPct > 5 {
			logger.Warn("migration caused data loss above threshold",
				"version", version, "metric", label, "before", beforeN, "after", afterN,
				"loss_percent", lossPct)
		}
	}
	checkDrop("total_users", before.totalUsers, after.totalUsers)
	checkDrop("users_with_cpf", before.usersWithCPF, after.usersWithCPF)
}
