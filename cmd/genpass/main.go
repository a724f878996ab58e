package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/auth"
)

func main() {
	length := pflag.IntP("length", "l", 16, "Length of the password in bytes (will be hex encoded, so output is 2x this)")
	username := pflag.StringP("user", "u", "radio", "Broker username the entry is generated for")
	pflag.Parse()

	// Generate random password
	password, err := auth.RandomHex(*length)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating password: %v\n", err)
		os.Exit(1)
	}

	// Generate hash and salt
	hash, salt := auth.GenerateHashAndSalt(password)

	fmt.Printf("Password: %s\n\n", password)
	fmt.Println("Add to meshtastic.broker.users:")
	fmt.Printf("  - username: %s\n", *username)
	fmt.Printf("    password_hash: %s\n", hash)
	fmt.Printf("    salt: %s\n", salt)
}
