// Command psp-client connects to the relay as a pharmacy and publishes test
// notifications through its producer API.
//
// Usage:
//
//	psp-client listen --url ws://relay:8887 --id telematik-9 --fetch
//	psp-client fetch --id telematik-9
//	psp-client clear --id telematik-9
//	psp-client send --id telematik-9 --route pick_up --file prescription.p7s
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
