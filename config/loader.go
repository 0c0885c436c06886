package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TRIAGE_SERVER_PORT for
// server.port.
const EnvPrefix = "TRIAGE"

// Default returns a Config with the service defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "INFO", Format: "text"},
		Capture: CaptureConfig{
			QueueSize:      1024,
			SendTimeout:    5 * time.Second,
			MaxConcurrency: 16,
			Streams:        []string{"stdout", "stderr"},
			Loggers:        []string{"server", "http", "main"},
		},
		Tasks: TasksConfig{Workers: 4, QueueSize: 64, Timeout: 15 * time.Minute},
		Model: ModelConfig{URL: "http://127.0.0.1:8400", Name: "gpt-4o", Timeout: 2 * time.Minute},
		Agents: AgentsConfig{
			MaxTurns: 20,
		},
		Tools: ToolsConfig{
			Shell:     ShellConfig{Enabled: true, Timeout: 2 * time.Minute},
			SSH:       SSHConfig{Port: 22},
			Azure:     AzureConfig{Endpoint: "https://api.loganalytics.io"},
			Dynatrace: DynatraceConfig{},
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			TTL:     7 * 24 * time.Hour,
			Channel: "triage:console",
		},
	}
}

// SetDefaults registers every default on v so that environment overrides
// are seen by Unmarshal even without a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.api_key", d.Server.APIKey)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("capture.queue_size", d.Capture.QueueSize)
	v.SetDefault("capture.send_timeout", d.Capture.SendTimeout)
	v.SetDefault("capture.max_concurrency", d.Capture.MaxConcurrency)
	v.SetDefault("capture.streams", d.Capture.Streams)
	v.SetDefault("capture.loggers", d.Capture.Loggers)

	v.SetDefault("tasks.workers", d.Tasks.Workers)
	v.SetDefault("tasks.queue_size", d.Tasks.QueueSize)
	v.SetDefault("tasks.timeout", d.Tasks.Timeout)

	v.SetDefault("model.url", d.Model.URL)
	v.SetDefault("model.name", d.Model.Name)
	v.SetDefault("model.api_key", d.Model.APIKey)
	v.SetDefault("model.timeout", d.Model.Timeout)

	v.SetDefault("agents.prompts", d.Agents.Prompts)
	v.SetDefault("agents.max_turns", d.Agents.MaxTurns)
	v.SetDefault("agents.members", d.Agents.Members)

	v.SetDefault("tools.shell.enabled", d.Tools.Shell.Enabled)
	v.SetDefault("tools.shell.timeout", d.Tools.Shell.Timeout)
	v.SetDefault("tools.aks.resource_group", d.Tools.AKS.ResourceGroup)
	v.SetDefault("tools.aks.cluster_name", d.Tools.AKS.ClusterName)
	v.SetDefault("tools.ssh.user", d.Tools.SSH.User)
	v.SetDefault("tools.ssh.key_path", d.Tools.SSH.KeyPath)
	v.SetDefault("tools.ssh.known_hosts", d.Tools.SSH.KnownHosts)
	v.SetDefault("tools.ssh.port", d.Tools.SSH.Port)
	v.SetDefault("tools.azure.endpoint", d.Tools.Azure.Endpoint)
	v.SetDefault("tools.azure.tenant_id", d.Tools.Azure.TenantID)
	v.SetDefault("tools.azure.client_id", d.Tools.Azure.ClientID)
	v.SetDefault("tools.azure.client_secret", d.Tools.Azure.ClientSecret)
	v.SetDefault("tools.dynatrace.url", d.Tools.Dynatrace.URL)
	v.SetDefault("tools.dynatrace.token", d.Tools.Dynatrace.Token)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)
	v.SetDefault("redis.channel", d.Redis.Channel)
	v.SetDefault("redis.mirror", d.Redis.Mirror)
}

// conventionalEnv maps keys to the unprefixed variables deployments
// already set for these services.
var conventionalEnv = map[string][]string{
	"server.port":               {"PORT"},
	"tools.aks.resource_group":  {"AZ_RESOURCEGROUP"},
	"tools.aks.cluster_name":    {"AZ_AKS_NAME"},
	"tools.ssh.key_path":        {"SSH_KEY_PATH"},
	"tools.azure.tenant_id":     {"AZURE_TENANT_ID"},
	"tools.azure.client_id":     {"AZURE_CLIENT_ID"},
	"tools.azure.client_secret": {"AZURE_CLIENT_SECRET"},
	"tools.dynatrace.url":       {"DYNATRACE_API_ENDPOINT"},
	"tools.dynatrace.token":     {"DYNATRACE_API_KEY"},
	"model.api_key":             {"AOAI_API_KEY"},
	"redis.password":            {"REDIS_PASSWORD"},
}

// ConfigDir returns the directory searched after the working directory.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dex"
	}
	return filepath.Join(home, ".dex")
}

// NewViper builds a viper instance with defaults, environment bindings and
// the config file applied. An explicit cfgFile must exist; the default
// search (./triage.yaml, ~/.dex/triage.yaml) may find nothing.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("triage")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range conventionalEnv {
		envName := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(append([]string{key, envName}, names...)...)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}
