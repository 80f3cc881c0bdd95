package activitypub

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/fedistore/db"
	"github.com/deemkeen/fedistore/domain"
	"github.com/deemkeen/fedistore/util"
)

// StartDeliveryWorker starts a background worker that drains the delivery
// queue. Failed deliveries go back through DeliveryRequeue with backoff.
func StartDeliveryWorker(database *db.DB, conf *util.AppConfig) {
	log.Println("Starting delivery worker...")

	interval := time.Duration(conf.Conf.DeliveryIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			processDeliveryQueue(database)
		}
	}()
}

// processDeliveryQueue drains everything that is ready right now. Dequeue
// has three outcomes: a delivery to attempt, a waitUntil instant when the
// queue holds only future work, or nothing at all; the two idle outcomes
// both end the pass and leave the sleeping to the ticker.
func processDeliveryQueue(database *db.DB) {
	for {
		delivery, waitUntil, err := database.DeliveryDequeue()
		if err != nil {
			log.Printf("DeliveryWorker: Failed to dequeue: %v", err)
			return
		}
		if delivery == nil {
			if waitUntil != nil {
				log.Printf("DeliveryWorker: Next delivery ready at %s", waitUntil.Format(time.RFC3339))
			}
			return
		}

		if err := deliverActivity(delivery); err != nil {
			log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d): %v",
				delivery.Address, delivery.Attempt, err)
			if err := database.DeliveryRequeue(delivery); err != nil {
				log.Printf("DeliveryWorker: Failed to requeue delivery to %s: %v", delivery.Address, err)
			}
		} else {
			log.Printf("DeliveryWorker: Successfully delivered to %s", delivery.Address)
		}
	}
}

// deliverActivity attempts to deliver a single activity to a remote inbox.
func deliverActivity(delivery *domain.Delivery) error {
	privateKey, err := ParsePrivateKey(delivery.SigningKey)
	if err != nil {
		return fmt.Errorf("failed to parse signing key: %w", err)
	}

	req, err := http.NewRequest("POST", delivery.Address, bytes.NewReader([]byte(delivery.Body)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", "fedistore/"+util.GetVersion())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	keyId := delivery.ActorId + "#main-key"
	if err := SignRequest(req, privateKey, keyId); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	return nil
}
