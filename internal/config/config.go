// Package config loads the Compose Stack Core's runtime configuration via
// spf13/viper, reading the environment variables spec.md §6 enumerates.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds every environment-variable-driven setting the core consumes.
type Config struct {
	RootDomain                   string
	ZaneAppDomain                string
	ZaneInternalDomain           string
	ZaneFluentdHost              string
	CaddyProxyAdminHost          string
	LokiHost                     string
	TemporalHostPort             string
	TemporalNamespace            string
	TemporalTaskQueue            string
	TemporalMaxConcurrentDeploys int
	SecretKey                    string

	DatabaseURL string

	DockerHost      string
	DockerTLSVerify bool
	DockerCertPath  string

	HTTPAddr string

	HealthPollTimeout time.Duration

	MonitorScheduleInterval time.Duration
	MetricsScheduleInterval time.Duration
}

// Load reads configuration from the process environment (and, if present, a
// config file named "zane-compose-core" on viper's search path), applying
// the same "env first, file as fallback" discipline viper gives for free.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("zane-compose-core")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/zane-compose-core")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	v.SetDefault("zane_internal_domain", "zane.local")
	v.SetDefault("temporalio_server_url", "localhost:7233")
	v.SetDefault("temporalio_namespace", "default")
	v.SetDefault("temporalio_task_queue", "compose-stack-core")
	v.SetDefault("temporalio_max_concurrent_deploys", 5)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("health_poll_timeout_seconds", 60)
	v.SetDefault("docker_tls_verify", false)
	v.SetDefault("monitor_schedule_interval_seconds", 30)
	v.SetDefault("metrics_schedule_interval_seconds", 60)

	cfg := &Config{
		RootDomain:                   v.GetString("root_domain"),
		ZaneAppDomain:                v.GetString("zane_app_domain"),
		ZaneInternalDomain:           v.GetString("zane_internal_domain"),
		ZaneFluentdHost:              v.GetString("zane_fluentd_host"),
		CaddyProxyAdminHost:         v.GetString("caddy_proxy_admin_host"),
		LokiHost:                    v.GetString("loki_host"),
		TemporalHostPort:            v.GetString("temporalio_server_url"),
		TemporalNamespace:           v.GetString("temporalio_namespace"),
		TemporalTaskQueue:           v.GetString("temporalio_task_queue"),
		TemporalMaxConcurrentDeploys: v.GetInt("temporalio_max_concurrent_deploys"),
		SecretKey:                   v.GetString("secret_key"),
		DatabaseURL:                 v.GetString("database_url"),
		DockerHost:                  v.GetString("docker_host"),
		DockerTLSVerify:             v.GetBool("docker_tls_verify"),
		DockerCertPath:              v.GetString("docker_cert_path"),
		HTTPAddr:                    v.GetString("http_addr"),
		HealthPollTimeout:           time.Duration(v.GetInt("health_poll_timeout_seconds")) * time.Second,
		MonitorScheduleInterval:     time.Duration(v.GetInt("monitor_schedule_interval_seconds")) * time.Second,
		MetricsScheduleInterval:     time.Duration(v.GetInt("metrics_schedule_interval_seconds")) * time.Second,
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}
