package db

import (
	"fmt"
	"strings"

	"github.com/deemkeen/fedistore/domain"
)

// Filter is a single field-equality constraint on a stream query. Filters
// are ANDed together; nested paths and operator shapes are not supported and
// are rejected loudly.
type Filter struct {
	Field string
	Value any
}

// The membership field of a stream row may hold a set (canonical, a JSON
// array) or a scalar written before canonicalization (a JSON string). Both
// shapes must match, so the predicate has two arms: scalar equality and
// set membership. json_each iterates a JSON string as its single value, so
// the second arm covers both valid shapes; the first catches the scalar
// case directly.
const sqlStreamMembership = `(streams.collections = json_quote(?)
	OR EXISTS (SELECT 1 FROM json_each(streams.collections) WHERE json_each.value = ?))`

// GetStream returns one page of the named collection, newest first by
// insertion order. after is an exclusive cursor: the id of the last item of
// the previous page. blockList excludes activities by the listed actors.
func (db *DB) GetStream(collectionId string, limit int, after string, blockList []string, filters []Filter) ([]domain.Activity, error) {
	var sb strings.Builder
	args := []any{collectionId, collectionId}

	sb.WriteString(`SELECT data FROM streams WHERE ` + sqlStreamMembership)

	if after != "" {
		sb.WriteString(` AND seq < (SELECT seq FROM streams WHERE key = ?)`)
		args = append(args, EncodeKey(after))
	}

	if len(blockList) > 0 {
		placeholders := strings.Repeat("?,", len(blockList))
		sb.WriteString(` AND NOT EXISTS (SELECT 1 FROM json_each(streams.actors)
			WHERE json_each.value IN (` + placeholders[:len(placeholders)-1] + `))`)
		for _, blocked := range blockList {
			args = append(args, blocked)
		}
	}

	for _, filter := range filters {
		if err := validateFilter(filter); err != nil {
			return nil, err
		}
		sb.WriteString(` AND json_extract(streams.data, ?) = ?`)
		args = append(args, "$."+filter.Field, filter.Value)
	}

	sb.WriteString(` ORDER BY seq DESC`)
	if limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}

	rows, err := db.db.Query(sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return activities, err
		}
		activity, err := decodeActivity(data, false)
		if err != nil {
			return activities, err
		}
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}

// GetStreamCount returns the total number of activities in the named
// collection across both membership representations.
func (db *DB) GetStreamCount(collectionId string) (int64, error) {
	var count int64
	err := db.db.QueryRow(`SELECT COUNT(*) FROM streams WHERE `+sqlStreamMembership,
		collectionId, collectionId).Scan(&count)
	return count, err
}

// validateFilter rejects everything beyond a flat field-equality match:
// compound paths, operator keys and non-scalar values are programmer errors
// in the calling engine and must not silently degrade.
func validateFilter(filter Filter) error {
	if filter.Field == "" || strings.ContainsAny(filter.Field, "./$") {
		return fmt.Errorf("%w: field %q", ErrUnsupportedFilter, filter.Field)
	}
	switch filter.Value.(type) {
	case string, bool, int, int64, float64:
		return nil
	default:
		return fmt.Errorf("%w: non-scalar value for field %q", ErrUnsupportedFilter, filter.Field)
	}
}
