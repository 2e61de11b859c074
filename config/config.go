// Package config loads chatrelay's process configuration with
// spf13/viper bound to environment variables and spf13/pflag, the same two
// libraries the teacher's go.mod declares for its (unretrieved) config
// package.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved process configuration.
type Config struct {
	Port        int    `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`
	DBPath      string `mapstructure:"db_path"`
	TLSEnabled  bool   `mapstructure:"tls_enabled"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`
}

// NewFlagSet declares the flags the server command accepts. Callers parse
// os.Args into it before calling Load so flag values win over environment
// variables, which in turn win over the built-in defaults below.
func NewFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("chatrelay", pflag.ContinueOnError)
	fs.Int("port", 8080, "listen port")
	fs.String("log-level", "info", "log level: debug|info|warn|error")
	fs.String("db-path", "chatrelay.db", "path to the durable message store")
	fs.Bool("tls-enabled", false, "serve the websocket upgrade over TLS")
	fs.String("tls-cert-file", "cert.pem", "PEM certificate chain path")
	fs.String("tls-key-file", "key.pem", "PKCS#8 private key path")
	return fs
}

// Load resolves configuration from fs (already parsed), environment
// variables (PORT, LOG_LEVEL, DB_PATH, TLS_ENABLED, TLS_CERT_FILE,
// TLS_KEY_FILE), and the defaults declared on fs, in that precedence order.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	cfg := &Config{
		Port:        v.GetInt("port"),
		LogLevel:    v.GetString("log-level"),
		DBPath:      v.GetString("db-path"),
		TLSEnabled:  v.GetBool("tls-enabled"),
		TLSCertFile: v.GetString("tls-cert-file"),
		TLSKeyFile:  v.GetString("tls-key-file"),
	}
	return cfg, nil
}
