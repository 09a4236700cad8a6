// Package server exposes the authentication bridge as a small JSON API.
// The bridge holds no state across requests beyond the rate limiter's
// windows: sessions live only in the response of the attempt that produced
// them.
package server

import (
	"net/http"
	"os"
	path "path/filepath"
	"time"

	"git.sr.ht/~kvo/go-std/errors"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"main/logger"
	"main/ratelimit"
	"main/sph"
)

var (
	addr    string
	respath string
	limiter *ratelimit.Limiter

	// upstream, when set, replaces the transport of every portal client.
	// Tests point it at canned responses.
	upstream http.RoundTripper
)

func Announce(version string) {
	logger.Info("Running %s", version)
}

// newClient builds the portal client for one inbound request.
func newClient(address string) *sph.Client {
	client := sph.New(address)
	if upstream != nil {
		client.HTTP.Transport = upstream
	}
	return client
}

// Configure loads config.json from the resource folder next to the
// executable, sets up logging, and wires the rate limiter with the
// per-endpoint quotas.
func Configure() error {
	execpath, err := os.Executable()
	if err != nil {
		logger.Fatal(errors.New(err, "cannot get path to executable"))
	}
	respath = path.Join(path.Dir(execpath), "../../../res/")

	cfg, err := getConfig(path.Join(respath, "config.json"))
	if err != nil {
		logger.Error(errors.New(err, "Cannot read config file:"))
		logger.Warn("Resorting to default configuration settings...")
	}

	if cfg.Logging.UseLogFile {
		logPath := path.Join(respath, "logs")
		err = logger.UseLogFile(logPath)
		if err != nil {
			return errors.New(err, "Log file was not set up successfully")
		}
		logger.Info("Log file set up successfully")
	}

	addr = cfg.Addr

	var store ratelimit.Store
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: redisPassword(),
			DB:       cfg.Redis.Idx,
		})
		store = ratelimit.NewRedisStore(client)
		logger.Info("Rate-limit windows stored in Redis at %s", cfg.Redis.Addr)
	} else {
		memory := ratelimit.NewMemoryStore()
		go pruneLoop(memory)
		store = memory
	}

	limiter = ratelimit.New(store)
	limiter.Configure("/api/login", ratelimit.Config{Interval: 15 * time.Second, Allowed: 2})
	limiter.Configure("/api/autologin", ratelimit.Config{Interval: 15 * time.Second, Allowed: 3})
	limiter.Configure("/api/moodle/login", ratelimit.Config{Interval: 15 * time.Second, Allowed: 3})

	return nil
}

// pruneLoop keeps the in-memory window map from growing without bound.
func pruneLoop(store *ratelimit.MemoryStore) {
	for range time.Tick(time.Hour) {
		store.Prune(time.Hour)
	}
}

func routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requireJSON)
	r.Post("/api/login", loginHandler)
	r.Post("/api/autologin", autologinHandler)
	r.Post("/api/moodle/login", moodleHandler)
	return r
}

func Run(tls bool) error {
	cert := path.Join(respath, "cert.pem")
	key := path.Join(respath, "key.pem")

	if tls {
		logger.Info("Running on %s", addr)
		return http.ListenAndServeTLS(addr, cert, key, routes())
	}
	logger.Warn("Running on %s (without TLS). DO NOT USE THIS IN PRODUCTION!", addr)
	return http.ListenAndServe(addr, routes())
}
