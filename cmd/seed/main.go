package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/config"
	"github.com/marcelsud/webhook-relay/endpoint"
	endpointpg "github.com/marcelsud/webhook-relay/endpoint/postgres"
	"github.com/marcelsud/webhook-relay/internal/database"
)

/* seed - creates the users and endpoints described in a YAML file
 * Usage: go run cmd/seed/main.go [endpoints.yaml]
 * Prints every API key, generated ones included
 */

func main() {
	seedFile := "endpoints.yaml"
	if len(os.Args) > 1 {
		seedFile = os.Args[1]
	}

	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	file, err := endpoint.Load(seedFile)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	pool, err := database.NewPool(ctx, cfg.DatabaseURL, database.PoolOptions{MaxConns: 2})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := endpointpg.NewRepository(pool)
	s := endpoint.NewService(repo)

	for _, u := range file.Users {
		user, err := createUser(ctx, s, repo, u)
		if err != nil {
			fmt.Fprintf(os.Stderr, "user %s: %v\n", u.Email, err)
			os.Exit(1)
		}
		fmt.Printf("User %s\n", user.Email)
		fmt.Printf("  id:      %s\n", user.ID)
		fmt.Printf("  api key: %s\n", user.APIKey)

		for _, e := range u.Endpoints {
			ep, err := s.Register(ctx, user.ID, e.Name, e.DestinationURL, e.Secret)
			if err != nil {
				fmt.Fprintf(os.Stderr, "endpoint %s: %v\n", e.Name, err)
				os.Exit(1)
			}
			if !e.IsActive() {
				if err := s.Deactivate(ctx, ep.ID); err != nil {
					fmt.Fprintf(os.Stderr, "endpoint %s: %v\n", e.Name, err)
					os.Exit(1)
				}
			}
			fmt.Printf("  endpoint %s -> %s (id %s, active %t)\n", ep.Name, ep.DestinationURL, ep.ID, e.IsActive())
		}
	}
}

// createUser keeps a fixed API key from the file, otherwise one is generated
func createUser(ctx context.Context, s *endpoint.Service, repo endpoint.Repository, u endpoint.SeedUser) (endpoint.User, error) {
	if u.APIKey == "" {
		return s.RegisterUser(ctx, u.Email)
	}
	user := endpoint.User{
		ID:        uuid.NewString(),
		Email:     u.Email,
		APIKey:    u.APIKey,
		CreatedAt: time.Now(),
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		return endpoint.User{}, fmt.Errorf("storing user: %w", err)
	}
	return user, nil
}
