package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file into the process environment when one exists.
// Existing environment variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return err
		}
	}
	return nil
}
