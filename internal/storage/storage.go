package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/sqlite3/*.sql migrations/pgx/*.sql
var migrations embed.FS

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type Store struct {
	db     *sql.DB
	driver string
}

type GuildSettings struct {
	GuildID            string
	LogChannel         string
	AutoroleID         string
	DJRoleID           string
	SpamMessages       int
	SpamWindowSeconds  int
	WarningsBeforeKick int
	DefaultVolume      int
	IdleSeconds        int
}

type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

func New(driver, dsn string) (*Store, error) {
	if driver != DriverPostgres {
		driver = DriverSQLite
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// :memory: databases exist per connection.
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Migrate() error {
	dir := path.Join("migrations", s.driver)
	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join(dir, file))
		if err != nil {
			return err
		}
		for _, statement := range strings.Split(string(content), ";") {
			if strings.TrimSpace(statement) == "" {
				continue
			}
			if _, err := s.db.Exec(statement); err != nil {
				if isIgnorableMigrationError(err) {
					continue
				}
				return fmt.Errorf("migration %s failed: %w", file, err)
			}
		}
	}
	return nil
}

func (s *Store) GetGuildSettings(ctx context.Context, guildID string, defaults GuildSettings) (GuildSettings, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT log_channel, autorole_id, dj_role_id, spam_messages, spam_window_seconds,
		warnings_before_kick, default_volume, idle_seconds
		FROM guild_settings WHERE guild_id = ?`), guildID)

	result := defaults
	result.GuildID = guildID

	var stored GuildSettings
	err := row.Scan(
		&stored.LogChannel,
		&stored.AutoroleID,
		&stored.DJRoleID,
		&stored.SpamMessages,
		&stored.SpamWindowSeconds,
		&stored.WarningsBeforeKick,
		&stored.DefaultVolume,
		&stored.IdleSeconds,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return GuildSettings{}, err
	}

	if stored.LogChannel != "" {
		result.LogChannel = stored.LogChannel
	}
	if stored.AutoroleID != "" {
		result.AutoroleID = stored.AutoroleID
	}
	if stored.DJRoleID != "" {
		result.DJRoleID = stored.DJRoleID
	}
	if stored.SpamMessages > 0 {
		result.SpamMessages = stored.SpamMessages
	}
	if stored.SpamWindowSeconds > 0 {
		result.SpamWindowSeconds = stored.SpamWindowSeconds
	}
	if stored.WarningsBeforeKick > 0 {
		result.WarningsBeforeKick = stored.WarningsBeforeKick
	}
	if stored.IdleSeconds > 0 {
		result.IdleSeconds = stored.IdleSeconds
	}
	result.DefaultVolume = stored.DefaultVolume
	return result, nil
}

func (s *Store) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO guild_settings (
			guild_id, log_channel, autorole_id, dj_role_id, spam_messages, spam_window_seconds,
			warnings_before_kick, default_volume, idle_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			log_channel = excluded.log_channel,
			autorole_id = excluded.autorole_id,
			dj_role_id = excluded.dj_role_id,
			spam_messages = excluded.spam_messages,
			spam_window_seconds = excluded.spam_window_seconds,
			warnings_before_kick = excluded.warnings_before_kick,
			default_volume = excluded.default_volume,
			idle_seconds = excluded.idle_seconds
	`),
		settings.GuildID,
		settings.LogChannel,
		settings.AutoroleID,
		settings.DJRoleID,
		settings.SpamMessages,
		settings.SpamWindowSeconds,
		settings.WarningsBeforeKick,
		settings.DefaultVolume,
		settings.IdleSeconds,
	)
	return err
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
	`), guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		var created int64
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM audit_logs WHERE created_at < ?`), cutoff.Unix())
	return err
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
