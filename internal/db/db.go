package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id SERIAL PRIMARY KEY,
            name VARCHAR(128) NOT NULL UNIQUE,
            kind VARCHAR(16) NOT NULL DEFAULT 'group',
            admin_id INT,
            mirror_id VARCHAR(200) UNIQUE,
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS room_members (
            room_id INT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            PRIMARY KEY(room_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            room_id INT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            author_id INT NOT NULL,
            body TEXT NOT NULL,
            deleted BOOLEAN DEFAULT FALSE,
            edited BOOLEAN DEFAULT FALSE,
            edited_at TIMESTAMPTZ,
            status SMALLINT NOT NULL DEFAULT 0,
            mirror_id VARCHAR(200) UNIQUE,
            sender_uid VARCHAR(128),
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room_id, created_at, id);`,
		`CREATE TABLE IF NOT EXISTS hidden_messages (
            user_id INT NOT NULL,
            message_id INT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            created_at TIMESTAMPTZ DEFAULT NOW(),
            PRIMARY KEY(user_id, message_id)
        );`,
		`CREATE TABLE IF NOT EXISTS read_states (
            user_id INT NOT NULL,
            room_id INT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            last_read_at TIMESTAMPTZ,
            hidden BOOLEAN DEFAULT FALSE,
            archived BOOLEAN DEFAULT FALSE,
            PRIMARY KEY(user_id, room_id)
        );`,
		`CREATE TABLE IF NOT EXISTS block_relations (
            blocker_id INT NOT NULL,
            blocked_id INT NOT NULL,
            created_at TIMESTAMPTZ DEFAULT NOW(),
            PRIMARY KEY(blocker_id, blocked_id)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
