package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcelsud/webhook-relay/endpoint"
)

/* validate-endpoints - Standalone CLI tool to validate a seed file offline
 * Usage: go run cmd/validate-endpoints/main.go [endpoints.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	seedFile := "endpoints.yaml"
	if len(os.Args) > 1 {
		seedFile = os.Args[1]
	}

	fmt.Printf("Validating seed file: %s\n", seedFile)
	fmt.Println(strings.Repeat("-", 50))

	file, err := endpoint.Load(seedFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d user(s):\n", len(file.Users))

	total := 0
	for i, u := range file.Users {
		fmt.Printf("\n%d. User: %s\n", i+1, u.Email)
		if u.APIKey != "" {
			fmt.Printf("   API key:   fixed\n")
		} else {
			fmt.Printf("   API key:   generated on seed\n")
		}
		for _, e := range u.Endpoints {
			fmt.Printf("   - %s\n", e.Name)
			fmt.Printf("     Destination: %s\n", e.DestinationURL)
			fmt.Printf("     Active:      %t\n", e.IsActive())
			fmt.Printf("     Signed:      %t\n", e.Secret != "")
			total++
		}
	}

	fmt.Printf("\nAll %d endpoint(s) are valid!\n", total)
}
