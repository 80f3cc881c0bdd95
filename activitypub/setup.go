package activitypub

import (
	"log"

	"github.com/deemkeen/fedistore/db"
	"github.com/deemkeen/fedistore/domain"
	"github.com/deemkeen/fedistore/util"
)

// Setup seeds the store with the initial actor, generating its signing
// keypair into the metadata sub-map when it does not carry one yet.
func Setup(database *db.DB, initialUser domain.Object) error {
	if initialUser == nil {
		return nil
	}
	log.Printf("Seeding initial actor %s", initialUser.ID())

	if initialUser.PrivateKey() == "" {
		keypair := util.GeneratePemKeypair()
		meta, _ := initialUser[domain.MetaKey].(map[string]any)
		if meta == nil {
			meta = map[string]any{}
			initialUser[domain.MetaKey] = meta
		}
		meta["privateKey"] = keypair.Private
		meta["publicKey"] = keypair.Public
	}

	return database.SaveObject(initialUser)
}
