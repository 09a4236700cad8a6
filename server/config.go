package server

import (
	"encoding/json"
	"io"
	"os"

	"git.sr.ht/~kvo/go-std/errors"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"main/logger"
)

type config struct {
	Addr    string        `json:"addr"`
	Logging loggingConfig `json:"logging"`
	Redis   redisConfig   `json:"redis"`
}

type loggingConfig struct {
	UseLogFile bool `json:"useLogFile"`
}

// redisConfig selects the distributed rate-limit window store. The
// password is never written to config.json; it comes from the REDIS_PASSWORD
// environment variable (a .env file is honored) or an interactive prompt.
type redisConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Idx     int    `json:"idx"`
}

// getConfig reads config.json, falling back to defaults, and rewrites the
// file so newly added options show up for the operator to edit.
func getConfig(cfgPath string) (config, error) {
	cfg := config{
		Addr: "localhost:8080",
		Logging: loggingConfig{
			UseLogFile: false,
		},
		Redis: redisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
	}

	jsonFile, err := os.OpenFile(cfgPath, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return cfg, errors.New(err, "failed to open config.json")
	}

	b, err := io.ReadAll(jsonFile)
	if err != nil {
		return cfg, errors.New(err, "failed to read config.json")
	}

	err = jsonFile.Close()
	if err != nil {
		return cfg, errors.New(err, "failed to close config.json")
	}

	if len(b) > 0 {
		err = json.Unmarshal(b, &cfg)
		if err != nil {
			return cfg, errors.New(err, "failed to unmarshal config.json")
		}
	} else {
		logger.Info("Using default configuration settings. These can be edited in the config.json file")
	}

	rawJson, err := json.MarshalIndent(cfg, "", "\t")
	if err != nil {
		return cfg, errors.New(err, "failed to marshal config.json")
	}

	err = os.WriteFile(cfgPath, rawJson, 0644)
	if err != nil {
		return cfg, errors.New(err, "failed to write to config.json")
	}

	return cfg, nil
}

// redisPassword resolves the Redis password: environment first (godotenv
// loads a .env file when present), interactive prompt as a fallback.
func redisPassword() string {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		logger.Warn("Cannot load .env file: %v", err)
	}
	if pwd, ok := os.LookupEnv("REDIS_PASSWORD"); ok {
		return pwd
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return ""
	}
	os.Stdout.WriteString("Redis password: ")
	pwd, err := term.ReadPassword(int(os.Stdin.Fd()))
	os.Stdout.WriteString("\n")
	if err != nil {
		logger.Warn("Cannot read Redis password: %v", err)
		return ""
	}
	return string(pwd)
}
