// genkey generates a producer credential for the kansoku key table.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go <system> [<system> ...]
//
// Prints one KANSOKU_API_KEYS entry per system, joined with commas so the
// output can be pasted into .env directly. Producers send the key in the
// credential header (X-API-Key by default); the server records the mapped
// system on every run they post.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

const keyPrefix = "ksk_"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: genkey <system> [<system> ...]")
		os.Exit(2)
	}

	entries := make([]string, 0, len(os.Args)-1)
	for _, system := range os.Args[1:] {
		// The key table is parsed as comma-separated key=system pairs.
		if system == "" || strings.ContainsAny(system, ",=") {
			fmt.Fprintf(os.Stderr, "error: system %q must be non-empty and contain no ',' or '='\n", system)
			os.Exit(1)
		}
		key, err := newKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: generate key: %v\n", err)
			os.Exit(1)
		}
		entries = append(entries, key+"="+system)
	}

	fmt.Printf("KANSOKU_API_KEYS=%s\n", strings.Join(entries, ","))
}

// newKey returns 32 random bytes, base64url without padding.
func newKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return keyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
