// Command bookingctl runs one-off operations against the booking engine: schema
// migration, hold expiry, calendar reconciliation, repair draining and incident review.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
