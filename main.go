package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/deemkeen/fedistore/activitypub"
	"github.com/deemkeen/fedistore/db"
	"github.com/deemkeen/fedistore/util"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database, err := db.Open(util.ResolveFilePath(conf.Conf.DbFile))
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	if conf.Conf.MaxDeliveryAttempts > 0 {
		database.MaxDeliveryAttempts = conf.Conf.MaxDeliveryAttempts
	}

	log.Println("Running database migrations...")
	if err := database.RunMigrations(); err != nil {
		log.Fatalln(err)
	}
	log.Println("Database migrations complete")

	// Operator-triggered repair job: recompute cached counters from the
	// stream and exit.
	if len(os.Args) > 1 && os.Args[1] == "recount" {
		repaired, err := database.RecountUserInfos()
		if err != nil {
			log.Fatalln(err)
		}
		log.Printf("Recount complete, %d rows repaired", repaired)
		return
	}

	if conf.Conf.WithDelivery {
		activitypub.StartDeliveryWorker(database, conf)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	log.Printf("%s is running", util.GetNameAndVersion())
	<-done
	log.Println("Shutting down...")
}
