package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port           int
	DBPath         string
	ControlSocket  string
	WriteTimeout   int // seconds
	AutosavePeriod int // seconds
	QueueSize      int
	MaxWorkers     int
	LogoutGraceMS  int
	BcryptCost     int
	LogLevel       string
	LogPath        string
}

func Load() *Config {
	cfg := &Config{
		Port:           1145,
		DBPath:         "lanchat.db",
		ControlSocket:  "/tmp/lanchat.sock",
		WriteTimeout:   30,
		AutosavePeriod: 1200,
		QueueSize:      40,
		MaxWorkers:     50,
		LogoutGraceMS:  100,
		BcryptCost:     10,
		LogLevel:       "info",
	}

	intEnv("LANCHAT_PORT", &cfg.Port)
	intEnv("LANCHAT_WRITE_TIMEOUT", &cfg.WriteTimeout)
	intEnv("LANCHAT_AUTOSAVE_PERIOD", &cfg.AutosavePeriod)
	intEnv("LANCHAT_QUEUE_SIZE", &cfg.QueueSize)
	intEnv("LANCHAT_MAX_WORKERS", &cfg.MaxWorkers)
	intEnv("LANCHAT_LOGOUT_GRACE_MS", &cfg.LogoutGraceMS)
	intEnv("LANCHAT_BCRYPT_COST", &cfg.BcryptCost)

	if dbPath := os.Getenv("LANCHAT_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if sock := os.Getenv("LANCHAT_CONTROL_SOCKET"); sock != "" {
		cfg.ControlSocket = sock
	}

	if level := os.Getenv("LANCHAT_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if path := os.Getenv("LANCHAT_LOG_PATH"); path != "" {
		cfg.LogPath = path
	}

	return cfg
}

// intEnv overwrites dst when the variable holds a positive integer.
func intEnv(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = n
	}
}

func (c *Config) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

func (c *Config) AutosaveDuration() time.Duration {
	return time.Duration(c.AutosavePeriod) * time.Second
}

func (c *Config) LogoutGrace() time.Duration {
	return time.Duration(c.LogoutGraceMS) * time.Millisecond
}
