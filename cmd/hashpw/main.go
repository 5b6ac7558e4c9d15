// Command hashpw prompts for a password on the terminal and prints its
// bcrypt hash. Useful for seeding users straight into the database.
package main

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/avolkov/authcore/internal/common"
	"github.com/avolkov/authcore/internal/server/password"
)

func main() {
	fmt.Fprint(os.Stderr, "Password: ")
	pwd, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatalf("error reading password: %v", err)
	}
	defer common.WipeByteArray(pwd)

	if len(pwd) == 0 {
		log.Fatal("empty password")
	}

	hasher, err := password.NewHasher()
	if err != nil {
		log.Fatalf("%v", err)
	}

	hash, err := hasher.Hash(string(pwd))
	if err != nil {
		log.Fatalf("%v", err)
	}

	fmt.Println(hash)
}
