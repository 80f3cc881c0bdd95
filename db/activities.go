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
	sqlSelectStreamByKey = `SELECT data FROM streams WHERE key = ?`
	sqlInsertStream      = `INSERT INTO streams(key, data, collections, actors, object_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	sqlUpdateStream = `UPDATE streams SET data = ?, collections = ?, actors = ?, object_ids = ? WHERE key = ?`
)

// SaveActivity inserts the activity if its id is not yet present and reports
// whether the insert happened. Re-insertion of an existing id is a no-op,
// not an error: concurrent redelivery of the same federated activity must
// not duplicate stream entries, so the existence check and the insert run in
// one transaction.
func (db *DB) SaveActivity(activity domain.Activity) (bool, error) {
	if activity.ID() == "" {
		return false, fmt.Errorf("activity has no id")
	}
	canonical := canonicalizeActivity(activity)

	inserted := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		inserted = false
		var existing string
		err := tx.QueryRow(sqlSelectStreamByKey, EncodeKey(canonical.ID())).Scan(&existing)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return err
		}
		if err := insertStreamRow(tx, canonical); err != nil {
			return err
		}
		if err := applyCounterHooks(tx, canonical); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// GetActivity returns the activity with the given id, or nil if absent.
// Without includeMeta the _meta sub-map is stripped; with it, the collection
// field reads back as a bare string when it holds exactly one member.
func (db *DB) GetActivity(id string, includeMeta bool) (domain.Activity, error) {
	row := db.db.QueryRow(sqlSelectStreamByKey, EncodeKey(id))
	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeActivity(data, includeMeta)
}

// UpdateActivity updates the stored activity, full replace or merge patch
// with null-deletes like UpdateObject, and propagates its embedded object
// copies into every other stream row that embeds them. Either mode requires
// an existing row; new activities go through SaveActivity so the counter
// hooks fire. The result carries the external read shape.
func (db *DB) UpdateActivity(activity domain.Activity, fullReplace bool) (domain.Activity, error) {
	if activity.ID() == "" {
		return nil, fmt.Errorf("activity has no id")
	}

	var updated domain.Activity
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		key := EncodeKey(activity.ID())

		var data string
		err := tx.QueryRow(sqlSelectStreamByKey, key).Scan(&data)
		if err == sql.ErrNoRows {
			return fmt.Errorf("activity %s does not exist", activity.ID())
		}
		if err != nil {
			return err
		}

		var current domain.Activity
		if fullReplace {
			current = activity
		} else {
			current, err = decodeActivity(data, true)
			if err != nil {
				return err
			}
			for field, value := range activity {
				if value == nil {
					delete(current, field)
					continue
				}
				current[field] = value
			}
		}

		updated = canonicalizeActivity(current)
		if err := updateStreamRow(tx, key, updated); err != nil {
			return err
		}

		for _, object := range updated.EmbeddedObjects() {
			if err := propagateObjectCopies(tx, object); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decanonicalizeActivity(updated), nil
}

// UpdateActivityMeta patches a single metadata key on the stored activity.
// The patch is a read-modify-write inside one transaction so concurrent
// writes to unrelated meta keys are not clobbered. Compound paths are a
// caller bug and fail fast.
func (db *DB) UpdateActivityMeta(activity domain.Activity, metaKey string, value any, remove bool) error {
	if activity.ID() == "" {
		return fmt.Errorf("activity has no id")
	}
	if strings.ContainsAny(metaKey, "./") {
		return fmt.Errorf("%w: %q", ErrInvalidMetaKey, metaKey)
	}

	return db.wrapTransaction(func(tx *sql.Tx) error {
		key := EncodeKey(activity.ID())
		var data string
		err := tx.QueryRow(sqlSelectStreamByKey, key).Scan(&data)
		if err == sql.ErrNoRows {
			return fmt.Errorf("activity %s does not exist", activity.ID())
		}
		if err != nil {
			return err
		}
		current, err := decodeActivity(data, true)
		if err != nil {
			return err
		}

		meta := current.EnsureMeta()
		if remove {
			delete(meta, metaKey)
		} else {
			meta[metaKey] = value
		}

		return updateStreamRow(tx, key, canonicalizeActivity(current))
	})
}

// RemoveActivity deletes the activity row scoped to one actor's view: the
// row goes away only when its id matches and the given actor is among the
// activity's actors, so one recipient's removal cannot take out another's
// copy. Actors are stored canonically as an array.
func (db *DB) RemoveActivity(activity domain.Activity, actorId string) error {
	if activity.ID() == "" {
		return fmt.Errorf("activity has no id")
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM streams
			WHERE key = ?
			AND EXISTS (SELECT 1 FROM json_each(streams.actors) WHERE json_each.value = ?)`,
			EncodeKey(activity.ID()), actorId)
		return err
	})
}

// propagateObjectCopies rewrites the denormalized copy of the object inside
// every stream row that embeds it, and refreshes the signing key of pending
// deliveries when the object carries a rotated private key. Runs inside the
// caller's transaction.
func propagateObjectCopies(tx *sql.Tx, object domain.Object) error {
	rows, err := tx.Query(`SELECT seq, data FROM streams
		WHERE EXISTS (SELECT 1 FROM json_each(streams.object_ids) WHERE json_each.value = ?)`,
		object.ID())
	if err != nil {
		return err
	}

	type streamRow struct {
		seq  int64
		data string
	}
	var matched []streamRow
	for rows.Next() {
		var row streamRow
		if err := rows.Scan(&row.seq, &row.data); err != nil {
			rows.Close()
			return err
		}
		matched = append(matched, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	// Embedded copies never carry the object's private metadata.
	replacement := map[string]any(object.WithoutMeta())

	for _, row := range matched {
		activity, err := decodeActivity(row.data, true)
		if err != nil {
			return err
		}
		replaceEmbeddedObject(activity, object.ID(), replacement)
		canonical := canonicalizeActivity(activity)

		data, collections, actors, objectIds, err := encodeStreamRow(canonical)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE streams SET data = ?, collections = ?, actors = ?, object_ids = ? WHERE seq = ?`,
			data, collections, actors, objectIds, row.seq); err != nil {
			return err
		}
	}

	// Key rotation must reach in-flight deliveries.
	if key := object.PrivateKey(); key != "" {
		if _, err := tx.Exec(`UPDATE delivery_queue SET signing_key = ? WHERE actor_id = ?`,
			key, object.ID()); err != nil {
			return err
		}
	}
	return nil
}

func replaceEmbeddedObject(activity domain.Activity, objectId string, replacement map[string]any) {
	switch embedded := activity["object"].(type) {
	case map[string]any:
		if id, _ := embedded["id"].(string); id == objectId {
			activity["object"] = replacement
		}
	case []any:
		for i, item := range embedded {
			if m, ok := item.(map[string]any); ok {
				if id, _ := m["id"].(string); id == objectId {
					embedded[i] = replacement
				}
			}
		}
	}
}

// canonicalizeActivity returns a copy with the scalar-or-set fields in their
// canonical on-disk shape: actor and _meta.collection always arrays, and the
// embedded object types denormalized into _meta.objectType/_meta.objectTypes.
func canonicalizeActivity(activity domain.Activity) domain.Activity {
	canonical := activity.Clone()

	if actor, ok := canonical["actor"]; ok {
		if _, isList := actor.([]any); !isList {
			canonical["actor"] = []any{actor}
		}
	}

	collections := canonical.Collections()
	types := canonical.ObjectTypes()
	if len(collections) > 0 || canonical.Meta() != nil || len(types) > 0 {
		meta := canonical.EnsureMeta()
		if _, ok := meta["collection"]; ok {
			list := make([]any, len(collections))
			for i, c := range collections {
				list[i] = c
			}
			meta["collection"] = list
		}
		if len(types) > 0 {
			meta["objectType"] = types[0]
			list := make([]any, len(types))
			for i, t := range types {
				list[i] = t
			}
			meta["objectTypes"] = list
		} else {
			delete(meta, "objectType")
			delete(meta, "objectTypes")
		}
	}

	return canonical
}

// decanonicalizeActivity applies the external read shape: a single-member
// collection set reads back as a bare string.
func decanonicalizeActivity(activity domain.Activity) domain.Activity {
	meta := activity.Meta()
	if meta == nil {
		return activity
	}
	if list, ok := meta["collection"].([]any); ok && len(list) == 1 {
		meta["collection"] = list[0]
	}
	return activity
}

func decodeActivity(data string, includeMeta bool) (domain.Activity, error) {
	var activity domain.Activity
	if err := json.Unmarshal([]byte(data), &activity); err != nil {
		return nil, err
	}
	if !includeMeta {
		delete(activity, domain.MetaKey)
		return activity, nil
	}
	return decanonicalizeActivity(activity), nil
}

func encodeStreamRow(activity domain.Activity) (data, collections, actors, objectIds string, err error) {
	raw, err := json.Marshal(activity)
	if err != nil {
		return "", "", "", "", err
	}
	collectionsJSON, err := json.Marshal(orEmpty(activity.Collections()))
	if err != nil {
		return "", "", "", "", err
	}
	actorsJSON, err := json.Marshal(orEmpty(activity.Actors()))
	if err != nil {
		return "", "", "", "", err
	}
	objectIdsJSON, err := json.Marshal(orEmpty(activity.ObjectIDs()))
	if err != nil {
		return "", "", "", "", err
	}
	return string(raw), string(collectionsJSON), string(actorsJSON), string(objectIdsJSON), nil
}

func orEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func insertStreamRow(tx *sql.Tx, activity domain.Activity) error {
	data, collections, actors, objectIds, err := encodeStreamRow(activity)
	if err != nil {
		return err
	}
	_, err = tx.Exec(sqlInsertStream, EncodeKey(activity.ID()), data, collections, actors, objectIds, time.Now())
	return err
}

func updateStreamRow(tx *sql.Tx, key string, activity domain.Activity) error {
	data, collections, actors, objectIds, err := encodeStreamRow(activity)
	if err != nil {
		return err
	}
	_, err = tx.Exec(sqlUpdateStream, data, collections, actors, objectIds, key)
	return err
}
