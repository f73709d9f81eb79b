// Command mirrorctl runs migrations and one-shot mirror runs without the API server.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
