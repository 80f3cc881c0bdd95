package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/fedistore/domain"
)

const (
	sqlUpsertObject = `INSERT INTO objects(key, data, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data`
	sqlSelectObjectByKey = `SELECT data FROM objects WHERE key = ?`
	sqlSelectObjectsByField = `SELECT data FROM objects
		WHERE json_extract(data, ?) = ? ORDER BY created_at DESC`
	sqlCountObjects = `SELECT COUNT(*) FROM objects`
)

// GetObject returns the object with the given id, or nil if absent. The
// _meta sub-map is stripped unless includeMeta is set; only trusted internal
// paths (e.g. outbox signing) may ask for it.
func (db *DB) GetObject(id string, includeMeta bool) (domain.Object, error) {
	row := db.db.QueryRow(sqlSelectObjectByKey, EncodeKey(id))
	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeObject(data, includeMeta)
}

// GetManyObjects batch-fetches objects by id, skipping ids that have no row.
// An empty id list returns empty without touching the database.
func (db *DB) GetManyObjects(ids []string, includeMeta bool) ([]domain.Object, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = EncodeKey(id)
	}

	rows, err := db.db.Query(`SELECT data FROM objects WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objects []domain.Object
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return objects, err
		}
		object, err := decodeObject(data, includeMeta)
		if err != nil {
			return objects, err
		}
		objects = append(objects, object)
	}
	return objects, rows.Err()
}

// GetObjectsByField returns all objects whose top-level field equals the
// given value, newest first.
func (db *DB) GetObjectsByField(field string, value string) ([]domain.Object, error) {
	rows, err := db.db.Query(sqlSelectObjectsByField, "$."+field, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objects []domain.Object
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return objects, err
		}
		object, err := decodeObject(data, false)
		if err != nil {
			return objects, err
		}
		objects = append(objects, object)
	}
	return objects, rows.Err()
}

// GetUserCount returns the number of stored objects.
func (db *DB) GetUserCount() (int64, error) {
	var count int64
	err := db.db.QueryRow(sqlCountObjects).Scan(&count)
	return count, err
}

// SaveObject upserts the object under its id. Idempotent.
func (db *DB) SaveObject(object domain.Object) error {
	if object.ID() == "" {
		return fmt.Errorf("object has no id")
	}
	data, err := json.Marshal(object)
	if err != nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertObject, EncodeKey(object.ID()), string(data), time.Now())
		return err
	})
}

// UpdateObject updates the canonical object row. With fullReplace the row is
// overwritten wholesale; otherwise the given top-level fields are applied as
// a merge patch where a null value deletes the field. Either way, every
// denormalized copy of the object embedded in stream rows is rewritten to
// match, and pending deliveries pick up a rotated signing key, all inside
// one transaction.
func (db *DB) UpdateObject(object domain.Object, actorId string, fullReplace bool) (domain.Object, error) {
	if object.ID() == "" {
		return nil, fmt.Errorf("object has no id")
	}

	var updated domain.Object
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		var err error
		updated, err = updateObjectRow(tx, object, fullReplace)
		if err != nil {
			return err
		}
		return propagateObjectCopies(tx, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func updateObjectRow(tx *sql.Tx, object domain.Object, fullReplace bool) (domain.Object, error) {
	key := EncodeKey(object.ID())

	if fullReplace {
		data, err := json.Marshal(object)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(sqlUpsertObject, key, string(data), time.Now()); err != nil {
			return nil, err
		}
		return object, nil
	}

	var data string
	err := tx.QueryRow(sqlSelectObjectByKey, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("object %s does not exist", object.ID())
	}
	if err != nil {
		return nil, err
	}
	current, err := decodeObject(data, true)
	if err != nil {
		return nil, err
	}

	// Merge patch: a null field value means delete, not set-to-null.
	for field, value := range object {
		if value == nil {
			delete(current, field)
			continue
		}
		current[field] = value
	}

	merged, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE objects SET data = ? WHERE key = ?`, string(merged), key); err != nil {
		return nil, err
	}
	return current, nil
}

func decodeObject(data string, includeMeta bool) (domain.Object, error) {
	var object domain.Object
	if err := json.Unmarshal([]byte(data), &object); err != nil {
		return nil, err
	}
	if !includeMeta {
		delete(object, domain.MetaKey)
	}
	return object, nil
}
