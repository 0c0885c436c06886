package config

import "time"

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Capture CaptureConfig `mapstructure:"capture"`
	Tasks   TasksConfig   `mapstructure:"tasks"`
	Model   ModelConfig   `mapstructure:"model"`
	Agents  AgentsConfig  `mapstructure:"agents"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	APIKey          string        `mapstructure:"api_key"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CaptureConfig tunes the console capture router.
type CaptureConfig struct {
	QueueSize      int           `mapstructure:"queue_size"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	// Streams lists the process streams to intercept: stdout, stderr.
	Streams []string `mapstructure:"streams"`
	// Loggers lists named loggers hooked in addition to the root logger.
	Loggers []string `mapstructure:"loggers"`
}

// TasksConfig sizes the background task pool.
type TasksConfig struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type ModelConfig struct {
	URL     string        `mapstructure:"url"`
	Name    string        `mapstructure:"name"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AgentsConfig struct {
	Prompts  string   `mapstructure:"prompts"`
	MaxTurns int      `mapstructure:"max_turns"`
	Members  []string `mapstructure:"members"`
}

type ToolsConfig struct {
	Shell     ShellConfig     `mapstructure:"shell"`
	AKS       AKSConfig       `mapstructure:"aks"`
	SSH       SSHConfig       `mapstructure:"ssh"`
	Azure     AzureConfig     `mapstructure:"azure"`
	Dynatrace DynatraceConfig `mapstructure:"dynatrace"`
}

type ShellConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AKSConfig struct {
	ResourceGroup string `mapstructure:"resource_group"`
	ClusterName   string `mapstructure:"cluster_name"`
}

type SSHConfig struct {
	User       string `mapstructure:"user"`
	KeyPath    string `mapstructure:"key_path"`
	KnownHosts string `mapstructure:"known_hosts"`
	Port       int    `mapstructure:"port"`
}

type AzureConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

type DynatraceConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	// Channel receives a copy of every console message when Mirror is set.
	Channel string `mapstructure:"channel"`
	Mirror  bool   `mapstructure:"mirror"`
}

// SSHEnabled reports whether kubectl over SSH can be offered.
func (t ToolsConfig) SSHEnabled() bool {
	return t.SSH.User != "" && t.SSH.KeyPath != ""
}

// AKSEnabled reports whether the AKS cluster is configured.
func (t ToolsConfig) AKSEnabled() bool {
	return t.AKS.ResourceGroup != "" && t.AKS.ClusterName != ""
}
