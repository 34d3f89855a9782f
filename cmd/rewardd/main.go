package main

import (
	"log"

	"rewardledger/services/rewardd"
)

func main() {
	if err := rewardd.Main(); err != nil {
		log.Fatalf("rewardd: %v", err)
	}
}
