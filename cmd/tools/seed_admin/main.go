// Command seed_admin creates a dashboard admin, or resets the password and
// roles of an existing one.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/academy-api/internal/app"
)

const upsertAdminSQL = `INSERT INTO users (username, email, password_hash, roles)
VALUES ($1, $2, $3, $4)
ON CONFLICT ((lower(username))) DO UPDATE
SET email = EXCLUDED.email, password_hash = EXCLUDED.password_hash, roles = EXCLUDED.roles
RETURNING id`

type adminInput struct {
	Username string
	Email    string
	Password string
	Roles    []string
}

func (in adminInput) validate() error {
	switch {
	case strings.TrimSpace(in.Username) == "":
		return errors.New("username is required")
	case !strings.Contains(in.Email, "@"):
		return errors.New("a valid email is required")
	case len(in.Password) < 8:
		return errors.New("password must be at least 8 characters")
	case len(in.Roles) == 0:
		return errors.New("at least one role is required")
	}
	return nil
}

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "seed_admin").Logger()
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg("no .env file found, relying on environment variables")
	}

	username := flag.String("username", "", "admin username")
	email := flag.String("email", "", "admin email")
	password := flag.String("password", os.Getenv("ADMIN_PASSWORD"), "admin password (defaults to $ADMIN_PASSWORD)")
	roles := flag.String("roles", "admin", "comma separated roles")
	flag.Parse()

	in := adminInput{
		Username: strings.TrimSpace(*username),
		Email:    strings.TrimSpace(*email),
		Password: *password,
		Roles:    splitRoles(*roles),
	}
	if err := in.validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid flags")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	id, err := seedAdmin(ctx, db, in, app.HashPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed admin")
	}
	logger.Info().Str("id", id).Str("username", in.Username).Strs("roles", in.Roles).Msg("admin ready")
}

func seedAdmin(ctx context.Context, db *sql.DB, in adminInput, hash func(string) (string, error)) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	passwordHash, err := hash(in.Password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	var id string
	err = db.QueryRowContext(ctx, upsertAdminSQL, in.Username, strings.ToLower(in.Email), passwordHash, pq.Array(in.Roles)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert admin: %w", err)
	}
	return id, nil
}

func splitRoles(v string) []string {
	var roles []string
	for _, r := range strings.Split(v, ",") {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
