// Command newsadmin provides database and account utilities for the news
// portal.
package main

import (
	"log"
	"os"
)

func main() {
	if err := rootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
