package db

import (
	"database/sql"
	"log"
)

const (
	// Canonical object rows. data is the full JSON document including the
	// _meta sub-map; created_at orders field-equality queries.
	sqlCreateObjectsTable = `CREATE TABLE IF NOT EXISTS objects (
		key TEXT NOT NULL PRIMARY KEY,
		data TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// The activity stream. seq is the insertion-order key used for cursor
	// pagination. collections, actors and object_ids are denormalized
	// JSON copies of the corresponding document fields and must always
	// hold valid JSON (array canonical, bare JSON string tolerated for
	// rows written before canonicalization).
	sqlCreateStreamsTable = `CREATE TABLE IF NOT EXISTS streams (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT UNIQUE NOT NULL,
		data TEXT NOT NULL,
		collections TEXT NOT NULL DEFAULT '[]',
		actors TEXT NOT NULL DEFAULT '[]',
		object_ids TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateStreamsIndices = `
		CREATE INDEX IF NOT EXISTS idx_streams_key ON streams(key);
		CREATE INDEX IF NOT EXISTS idx_streams_collections ON streams(collections);
	`

	// Outbound delivery queue. after is unix milliseconds; dequeue order
	// is (after, id).
	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		signing_key TEXT,
		body TEXT NOT NULL,
		attempt INTEGER DEFAULT 0,
		after INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_after ON delivery_queue(after, id);
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_actor_id ON delivery_queue(actor_id);
	`

	// Cached per-actor aggregates.
	sqlCreateUserInfosTable = `CREATE TABLE IF NOT EXISTS user_infos (
		key TEXT NOT NULL PRIMARY KEY,
		statuses_count INTEGER NOT NULL DEFAULT 0,
		followers_count INTEGER NOT NULL DEFAULT 0
	)`

	// OAuth2 grant rows: JSON document plus the natural lookup column.
	sqlCreateClientsTable = `CREATE TABLE IF NOT EXISTS clients (
		key TEXT NOT NULL PRIMARY KEY,
		client_id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateUsersTable = `CREATE TABLE IF NOT EXISTS users (
		key TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateAccessTokensTable = `CREATE TABLE IF NOT EXISTS access_tokens (
		key TEXT NOT NULL PRIMARY KEY,
		token TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateRefreshTokensTable = `CREATE TABLE IF NOT EXISTS refresh_tokens (
		key TEXT NOT NULL PRIMARY KEY,
		token TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateAuthorizationCodesTable = `CREATE TABLE IF NOT EXISTS authorization_codes (
		key TEXT NOT NULL PRIMARY KEY,
		code TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateGrantIndices = `
		CREATE INDEX IF NOT EXISTS idx_clients_client_id ON clients(client_id);
		CREATE INDEX IF NOT EXISTS idx_users_user_id ON users(user_id);
		CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
		CREATE INDEX IF NOT EXISTS idx_access_tokens_token ON access_tokens(token);
		CREATE INDEX IF NOT EXISTS idx_refresh_tokens_token ON refresh_tokens(token);
		CREATE INDEX IF NOT EXISTS idx_authorization_codes_code ON authorization_codes(code);
	`
)

// RunMigrations executes all database migrations.
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			ddl  string
		}{
			{"objects", sqlCreateObjectsTable},
			{"streams", sqlCreateStreamsTable},
			{"delivery_queue", sqlCreateDeliveryQueueTable},
			{"user_infos", sqlCreateUserInfosTable},
			{"clients", sqlCreateClientsTable},
			{"users", sqlCreateUsersTable},
			{"access_tokens", sqlCreateAccessTokensTable},
			{"refresh_tokens", sqlCreateRefreshTokensTable},
			{"authorization_codes", sqlCreateAuthorizationCodesTable},
		}
		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.ddl, table.name); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(sqlCreateStreamsIndices); err != nil {
			log.Printf("Warning: Failed to create streams indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateDeliveryQueueIndices); err != nil {
			log.Printf("Warning: Failed to create delivery_queue indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateGrantIndices); err != nil {
			log.Printf("Warning: Failed to create grant indices: %v", err)
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	if _, err := tx.Exec(createSQL); err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}
