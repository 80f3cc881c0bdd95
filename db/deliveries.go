package db

import (
	"database/sql"
	"log"
	"time"

	"github.com/deemkeen/fedistore/domain"
)

const (
	sqlInsertDelivery = `INSERT INTO delivery_queue(address, actor_id, signing_key, body, attempt, after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectNextDelivery = `SELECT id, address, actor_id, signing_key, body, attempt, after
		FROM delivery_queue ORDER BY after ASC, id ASC LIMIT 1`
	sqlDeleteDelivery = `DELETE FROM delivery_queue WHERE id = ?`
)

// Backoff between attempts grows by 10^attempt milliseconds, capped so a
// persistently failing remote cannot push a row arbitrarily far out.
const maxBackoffMillis = int64(time.Hour / time.Millisecond)

// DeliveryEnqueue fans the outbound message out to one queue row per
// address. Reports false, without writing, when there is nothing to fan out.
func (db *DB) DeliveryEnqueue(actorId string, body string, addresses []string, signingKey string) (bool, error) {
	if len(addresses) == 0 {
		return false, nil
	}
	now := time.Now()
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		for _, address := range addresses {
			if _, err := tx.Exec(sqlInsertDelivery,
				address, actorId, signingKey, body, 0, now.UnixMilli(), now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeliveryDequeue atomically removes and returns the earliest ready
// delivery, ordered by (after, id). The select and delete share one
// transaction, so two concurrent workers can never receive the same row.
// When no row is ready yet, the earliest schedule time comes back as
// waitUntil so the caller can sleep instead of busy-polling; when the queue
// is empty both results are nil.
func (db *DB) DeliveryDequeue() (*domain.Delivery, *time.Time, error) {
	var delivery *domain.Delivery
	var waitUntil *time.Time

	err := db.wrapTransaction(func(tx *sql.Tx) error {
		delivery, waitUntil = nil, nil

		var d domain.Delivery
		err := tx.QueryRow(sqlSelectNextDelivery).Scan(
			&d.Id, &d.Address, &d.ActorId, &d.SigningKey, &d.Body, &d.Attempt, &d.After)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		if d.After > time.Now().UnixMilli() {
			at := time.UnixMilli(d.After)
			waitUntil = &at
			return nil
		}

		if _, err := tx.Exec(sqlDeleteDelivery, d.Id); err != nil {
			return err
		}
		delivery = &d
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return delivery, waitUntil, nil
}

// DeliveryRequeue inserts the backed-off successor of a failed delivery:
// attempt+1, scheduled 10^attempt ms after the old slot. The original row
// was already deleted by dequeue, so a crash between the two leaves the old
// row in place rather than losing work. Rows that exhaust
// MaxDeliveryAttempts are dropped.
func (db *DB) DeliveryRequeue(delivery *domain.Delivery) error {
	attempt := delivery.Attempt + 1
	if attempt >= db.MaxDeliveryAttempts {
		log.Printf("Giving up on delivery to %s after %d attempts", delivery.Address, attempt)
		return nil
	}

	after := delivery.After + backoffMillis(delivery.Attempt)
	now := time.Now()
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDelivery,
			delivery.Address, delivery.ActorId, delivery.SigningKey, delivery.Body,
			attempt, after, now)
		return err
	})
}

func backoffMillis(attempt int) int64 {
	backoff := int64(1)
	for i := 0; i < attempt; i++ {
		backoff *= 10
		if backoff >= maxBackoffMillis {
			return maxBackoffMillis
		}
	}
	return backoff
}
