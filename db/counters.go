package db

import (
	"database/sql"
	"log"

	"github.com/deemkeen/fedistore/domain"
)

// Cached aggregate counters, denormalized from the activity stream. The
// incremental hooks below run inside SaveActivity's transaction and keep the
// counters live; RecountUserInfos is the idempotent repair job that
// recomputes everything from the stream and fixes drift.

const (
	sqlIncrementStatuses = `INSERT INTO user_infos(key, statuses_count, followers_count) VALUES (?, 1, 0)
		ON CONFLICT(key) DO UPDATE SET statuses_count = statuses_count + 1`
	sqlIncrementFollowers = `INSERT INTO user_infos(key, statuses_count, followers_count) VALUES (?, 0, 1)
		ON CONFLICT(key) DO UPDATE SET followers_count = followers_count + 1`
	sqlDecrementFollowers = `INSERT INTO user_infos(key, statuses_count, followers_count) VALUES (?, 0, 0)
		ON CONFLICT(key) DO UPDATE SET followers_count = MAX(followers_count - 1, 0)`
	sqlSelectUserInfo  = `SELECT statuses_count, followers_count FROM user_infos WHERE key = ?`
	sqlUpsertUserInfo  = `INSERT INTO user_infos(key, statuses_count, followers_count) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET statuses_count = excluded.statuses_count, followers_count = excluded.followers_count`
	sqlSelectUserInfos = `SELECT key, statuses_count, followers_count FROM user_infos`
)

// GetUserInfo returns the cached counters for the actor, or nil if none
// were recorded yet.
func (db *DB) GetUserInfo(actorId string) (*domain.UserInfo, error) {
	info := domain.UserInfo{ActorId: actorId}
	err := db.db.QueryRow(sqlSelectUserInfo, EncodeKey(actorId)).Scan(&info.StatusesCount, &info.FollowersCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// applyCounterHooks is the incremental strategy, invoked for every activity
// that is durably inserted, inside the same transaction as the insert.
func applyCounterHooks(tx *sql.Tx, activity domain.Activity) error {
	actors := activity.Actors()

	// A new Note attributed to the actor bumps their status count.
	if len(actors) > 0 && hasNoteObject(activity) {
		if _, err := tx.Exec(sqlIncrementStatuses, EncodeKey(actors[0])); err != nil {
			return err
		}
	}

	switch activity.Type() {
	case "Follow":
		if targets := activity.ObjectIDs(); len(targets) > 0 {
			if _, err := tx.Exec(sqlIncrementFollowers, EncodeKey(targets[0])); err != nil {
				return err
			}
		}
	case "Undo":
		target, err := undoneFollowTarget(tx, activity)
		if err != nil {
			return err
		}
		if target != "" {
			if _, err := tx.Exec(sqlDecrementFollowers, EncodeKey(target)); err != nil {
				return err
			}
		}
	}
	return nil
}

func hasNoteObject(activity domain.Activity) bool {
	for _, object := range activity.EmbeddedObjects() {
		if object.Type() == "Note" {
			return true
		}
	}
	return false
}

// undoneFollowTarget resolves the actor whose follower count an Undo
// reverses. The undone activity may be embedded in full or referenced by
// id; references are looked up in the stream.
func undoneFollowTarget(tx *sql.Tx, activity domain.Activity) (string, error) {
	for _, embedded := range activity.EmbeddedObjects() {
		undone := domain.Activity(embedded)
		if undone.Type() == "Follow" {
			if targets := undone.ObjectIDs(); len(targets) > 0 {
				return targets[0], nil
			}
		}
	}

	for _, ref := range activity.ObjectIDs() {
		var data string
		err := tx.QueryRow(sqlSelectStreamByKey, EncodeKey(ref)).Scan(&data)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", err
		}
		undone, err := decodeActivity(data, true)
		if err != nil {
			return "", err
		}
		if undone.Type() == "Follow" {
			if targets := undone.ObjectIDs(); len(targets) > 0 {
				return targets[0], nil
			}
		}
	}
	return "", nil
}

// RecountUserInfos recomputes every actor's true counts from the full
// stream and writes back only the rows that drifted. Safe to run while live
// traffic keeps inserting, since the writes are conditional; counters may be
// transiently stale, never persistently wrong. Returns the number of rows
// repaired.
func (db *DB) RecountUserInfos() (int, error) {
	rows, err := db.db.Query(`SELECT data FROM streams`)
	if err != nil {
		return 0, err
	}

	var activities []domain.Activity
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return 0, err
		}
		activity, err := decodeActivity(data, true)
		if err != nil {
			rows.Close()
			return 0, err
		}
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	statuses, followers := recomputeCounts(activities)

	// Include actors that have a cached row but no longer any stream
	// presence, so stale rows decay back to zero.
	keys := map[string]bool{}
	for actor := range statuses {
		keys[actor] = true
	}
	for actor := range followers {
		keys[actor] = true
	}
	cachedRows, err := db.db.Query(sqlSelectUserInfos)
	if err != nil {
		return 0, err
	}
	for cachedRows.Next() {
		var key string
		var s, f int64
		if err := cachedRows.Scan(&key, &s, &f); err != nil {
			cachedRows.Close()
			return 0, err
		}
		actor, err := DecodeKey(key)
		if err != nil {
			cachedRows.Close()
			return 0, err
		}
		keys[actor] = true
	}
	if err := cachedRows.Err(); err != nil {
		cachedRows.Close()
		return 0, err
	}
	cachedRows.Close()

	repaired := 0
	for actor := range keys {
		wantStatuses := statuses[actor]
		wantFollowers := followers[actor]

		var haveStatuses, haveFollowers int64
		err := db.db.QueryRow(sqlSelectUserInfo, EncodeKey(actor)).Scan(&haveStatuses, &haveFollowers)
		if err == sql.ErrNoRows {
			if wantStatuses == 0 && wantFollowers == 0 {
				continue
			}
		} else if err != nil {
			return repaired, err
		} else if haveStatuses == wantStatuses && haveFollowers == wantFollowers {
			continue
		}

		err = db.wrapTransaction(func(tx *sql.Tx) error {
			_, err := tx.Exec(sqlUpsertUserInfo, EncodeKey(actor), wantStatuses, wantFollowers)
			return err
		})
		if err != nil {
			return repaired, err
		}
		log.Printf("Repaired counters for %s: statuses %d, followers %d", actor, wantStatuses, wantFollowers)
		repaired++
	}
	return repaired, nil
}

// recomputeCounts derives each actor's true statuses and net follower
// counts (follows minus undone follows, never negative) from the stream.
func recomputeCounts(activities []domain.Activity) (statuses, followers map[string]int64) {
	statuses = map[string]int64{}
	follows := map[string]int64{}
	undone := map[string]int64{}

	byId := map[string]domain.Activity{}
	for _, activity := range activities {
		if id := activity.ID(); id != "" {
			byId[id] = activity
		}
	}

	resolveFollowTarget := func(activity domain.Activity) string {
		for _, embedded := range activity.EmbeddedObjects() {
			inner := domain.Activity(embedded)
			if inner.Type() == "Follow" {
				if targets := inner.ObjectIDs(); len(targets) > 0 {
					return targets[0]
				}
			}
		}
		for _, ref := range activity.ObjectIDs() {
			if inner, ok := byId[ref]; ok && inner.Type() == "Follow" {
				if targets := inner.ObjectIDs(); len(targets) > 0 {
					return targets[0]
				}
			}
		}
		return ""
	}

	for _, activity := range activities {
		actors := activity.Actors()
		if len(actors) > 0 && hasNoteObject(activity) {
			statuses[actors[0]]++
		}
		switch activity.Type() {
		case "Follow":
			if targets := activity.ObjectIDs(); len(targets) > 0 {
				follows[targets[0]]++
			}
		case "Undo":
			if target := resolveFollowTarget(activity); target != "" {
				undone[target]++
			}
		}
	}

	followers = map[string]int64{}
	for actor, count := range follows {
		net := count - undone[actor]
		if net < 0 {
			net = 0
		}
		followers[actor] = net
	}
	return statuses, followers
}
