package main

import (
	"log"

	"github.com/secutrans/convoy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
