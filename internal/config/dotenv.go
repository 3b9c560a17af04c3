package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env.local then .env from the working directory and any
// extra directories given. Variables already set in the environment win.
// Set DWELL_DOTENV=false to skip loading entirely.
func LoadDotEnv(dirs ...string) error {
	if IsDotEnvDisabled() {
		return nil
	}

	paths := []string{".env.local", ".env"}
	for _, d := range dirs {
		paths = append(paths, filepath.Join(d, ".env.local"), filepath.Join(d, ".env"))
	}

	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		log.Printf("config: loaded env from %s", p)
	}
	return nil
}

// IsDotEnvDisabled reports whether DWELL_DOTENV turns dotenv loading off.
func IsDotEnvDisabled() bool {
	v := strings.TrimSpace(os.Getenv("DWELL_DOTENV"))
	switch strings.ToLower(v) {
	case "0", "false", "off", "no":
		return true
	default:
		return false
	}
}
