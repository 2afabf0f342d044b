package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const (
	defaultConfigName = "config"

	// MaxBatchSize is the largest id list the catalog service accepts per request.
	MaxBatchSize = 100
)

// Credentials are the connection parameters for the remote server.
type Credentials struct {
	RCONHost     string `env:"RCON_HOST"`
	RCONPort     int    `env:"RCON_PORT"`
	RCONPassword string `env:"RCON_PASSWORD"`

	SFTPHost       string `env:"SFTP_HOST"`
	SFTPPort       int    `env:"SFTP_PORT" envDefault:"22"`
	SFTPUser       string `env:"SFTP_USER"`
	SFTPPassword   string `env:"SFTP_PASSWORD"`
	SFTPRemoteFile string `env:"SFTP_REMOTE_FILE"`

	SteamAPIKey    string `env:"STEAM_API_KEY"`
	SteamAPIUsePFS string `env:"STEAM_API_USE_PFS"`
}

type Steam struct {
	// UsePFS selects the keyed IPublishedFileService endpoint. It only takes
	// effect when APIKey is non-empty.
	UsePFS      bool
	APIKey      string
	BatchSize   int
	Timeout     time.Duration
	BatchPause  time.Duration
	MaxAttempts int
}

type Restart struct {
	CountdownMinutes int
	Tick             time.Duration
	// Timeout is the settle delay between save and quit. The final warning
	// gives players twice this long to disconnect.
	Timeout        time.Duration
	EvictSettle    time.Duration
	WarningMessage string
	RestartMessage string
}

type Paths struct {
	ServerINI string
	Snapshot  string
	ModList   string
	Lock      string
	LogFile   string

	// Journal and History are optional; empty disables them.
	Journal string
	History string
}

type Config struct {
	RCONAddr     string
	RCONPassword string
	RCONTimeout  time.Duration

	SFTPAddr       string
	SFTPUser       string
	SFTPPassword   string
	SFTPRemoteFile string
	KnownHosts     string

	Steam   Steam
	Restart Restart
	Paths   Paths

	creds Credentials
}

// MissingError reports required connection parameters that are absent.
type MissingError struct {
	Vars []string
}

func (e *MissingError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Vars, ", ")
}

// LoadDotEnv seeds the process environment from a .env file. Variables that are
// already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads settings and credentials. file may name an explicit settings
// file; when empty the default search path is used and the file is optional.
func Load(file string) (Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}

	v.SetEnvPrefix("MW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults match the long-running deployment.
	v.SetDefault("steam.batch_size", 50)
	v.SetDefault("steam.timeout", 20*time.Second)
	v.SetDefault("steam.batch_pause", 500*time.Millisecond)
	v.SetDefault("steam.max_attempts", 5)

	v.SetDefault("restart.countdown_minutes", 5)
	v.SetDefault("restart.tick", time.Minute)
	v.SetDefault("restart.timeout", 5*time.Second)
	v.SetDefault("restart.evict_settle", 2*time.Second)
	v.SetDefault("restart.warning_message", "[SERVER] Restart in {minutes} minutes due to a mod update!")
	v.SetDefault("restart.restart_message", "[SERVER] Server is restarting now due to a mod update! Please disconnect within {seconds}sec or get kicked!")

	v.SetDefault("rcon.timeout", 10*time.Second)
	v.SetDefault("sftp.known_hosts", "")

	v.SetDefault("paths.server_ini", "")
	v.SetDefault("paths.snapshot", "/tmp/modInfos.json")
	v.SetDefault("paths.modlist", "/tmp/discord_modlist.txt")
	v.SetDefault("paths.lock", "/tmp/pid.mod-watchdog")
	v.SetDefault("paths.log_file", "/tmp/log.mod-watchdog")
	v.SetDefault("paths.journal", "")
	v.SetDefault("paths.history", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// The settings file is optional unless named explicitly.
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read settings: %w", err)
		}
	}

	var creds Credentials
	if err := env.Parse(&creds); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	creds.trim()
	if creds.SFTPHost == "" {
		creds.SFTPHost = creds.RCONHost
	}

	cfg := Config{
		RCONPassword:   creds.RCONPassword,
		RCONTimeout:    v.GetDuration("rcon.timeout"),
		SFTPUser:       creds.SFTPUser,
		SFTPPassword:   creds.SFTPPassword,
		SFTPRemoteFile: creds.SFTPRemoteFile,
		KnownHosts:     strings.TrimSpace(v.GetString("sftp.known_hosts")),
		Steam: Steam{
			UsePFS:      parseFlag(creds.SteamAPIUsePFS) || v.GetBool("steam.use_pfs"),
			APIKey:      creds.SteamAPIKey,
			BatchSize:   v.GetInt("steam.batch_size"),
			Timeout:     v.GetDuration("steam.timeout"),
			BatchPause:  v.GetDuration("steam.batch_pause"),
			MaxAttempts: v.GetInt("steam.max_attempts"),
		},
		Restart: Restart{
			CountdownMinutes: v.GetInt("restart.countdown_minutes"),
			Tick:             v.GetDuration("restart.tick"),
			Timeout:          v.GetDuration("restart.timeout"),
			EvictSettle:      v.GetDuration("restart.evict_settle"),
			WarningMessage:   v.GetString("restart.warning_message"),
			RestartMessage:   v.GetString("restart.restart_message"),
		},
		Paths: Paths{
			ServerINI: strings.TrimSpace(v.GetString("paths.server_ini")),
			Snapshot:  strings.TrimSpace(v.GetString("paths.snapshot")),
			ModList:   strings.TrimSpace(v.GetString("paths.modlist")),
			Lock:      strings.TrimSpace(v.GetString("paths.lock")),
			LogFile:   strings.TrimSpace(v.GetString("paths.log_file")),
			Journal:   strings.TrimSpace(v.GetString("paths.journal")),
			History:   strings.TrimSpace(v.GetString("paths.history")),
		},
		creds: creds,
	}
	if creds.RCONHost != "" && creds.RCONPort > 0 {
		cfg.RCONAddr = fmt.Sprintf("%s:%d", creds.RCONHost, creds.RCONPort)
	}
	if creds.SFTPHost != "" && creds.SFTPPort > 0 {
		cfg.SFTPAddr = fmt.Sprintf("%s:%d", creds.SFTPHost, creds.SFTPPort)
	}
	if cfg.Paths.ServerINI == "" && creds.SFTPRemoteFile != "" {
		// Keep the remote file name, stored next to the working directory.
		cfg.Paths.ServerINI = filepath.Base(creds.SFTPRemoteFile)
	}

	if cfg.Steam.BatchSize <= 0 {
		return Config{}, fmt.Errorf("invalid steam.batch_size %d", cfg.Steam.BatchSize)
	}
	if cfg.Steam.BatchSize > MaxBatchSize {
		cfg.Steam.BatchSize = MaxBatchSize
	}
	if cfg.Steam.MaxAttempts <= 0 {
		return Config{}, fmt.Errorf("invalid steam.max_attempts %d", cfg.Steam.MaxAttempts)
	}
	if cfg.Steam.Timeout <= 0 {
		return Config{}, fmt.Errorf("invalid steam.timeout %s", cfg.Steam.Timeout)
	}
	if cfg.Restart.CountdownMinutes < 0 {
		return Config{}, fmt.Errorf("invalid restart.countdown_minutes %d", cfg.Restart.CountdownMinutes)
	}
	if cfg.Restart.Tick <= 0 {
		return Config{}, fmt.Errorf("invalid restart.tick %s", cfg.Restart.Tick)
	}
	if cfg.Restart.Timeout < 0 {
		return Config{}, fmt.Errorf("invalid restart.timeout %s", cfg.Restart.Timeout)
	}
	if cfg.Paths.Snapshot == "" {
		return Config{}, fmt.Errorf("paths.snapshot must not be empty")
	}
	if cfg.Paths.Lock == "" {
		return Config{}, fmt.Errorf("paths.lock must not be empty")
	}
	return cfg, nil
}

// Validate checks that the connection parameters a mode needs are present.
// needTransfer adds the SFTP parameters to the required set.
func (c Config) Validate(needTransfer bool) error {
	var missing []string
	req := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	req("RCON_HOST", c.creds.RCONHost != "")
	req("RCON_PORT", c.creds.RCONPort > 0)
	req("RCON_PASSWORD", c.creds.RCONPassword != "")
	if needTransfer {
		req("SFTP_PORT", c.creds.SFTPPort > 0)
		req("SFTP_USER", c.creds.SFTPUser != "")
		req("SFTP_PASSWORD", c.creds.SFTPPassword != "")
		req("SFTP_REMOTE_FILE", c.creds.SFTPRemoteFile != "")
	}
	if len(missing) > 0 {
		return &MissingError{Vars: missing}
	}
	return nil
}

func (c *Credentials) trim() {
	c.RCONHost = strings.TrimSpace(c.RCONHost)
	c.SFTPHost = strings.TrimSpace(c.SFTPHost)
	c.SFTPUser = strings.TrimSpace(c.SFTPUser)
	c.SFTPRemoteFile = strings.TrimSpace(c.SFTPRemoteFile)
	c.SteamAPIKey = strings.TrimSpace(c.SteamAPIKey)
}

func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
