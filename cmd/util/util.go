package util

import (
	"crypto/tls"
	"strings"

	"github.com/ValentinKolb/respKV/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the common connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "endpoints"
	cmd.PersistentFlags().String(key, "localhost:6379", WrapString("The address of the server. In cluster mode, multiple seed endpoints can be specified as a comma-separated list"))

	key = "cluster"
	cmd.PersistentFlags().Bool(key, false, WrapString("Enable cluster mode with slot-based routing and topology discovery"))

	key = "username"
	cmd.PersistentFlags().String(key, "", WrapString("Username for authentication"))

	key = "password"
	cmd.PersistentFlags().String(key, "", WrapString("Password for authentication"))

	key = "database"
	cmd.PersistentFlags().Int(key, 0, WrapString("Logical database to select after connecting (single-node mode only)"))

	key = "protocol"
	cmd.PersistentFlags().Int(key, 3, WrapString("Preferred RESP protocol version (2 or 3)"))

	key = "tls"
	cmd.PersistentFlags().Bool(key, false, WrapString("Connect using TLS"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds for each command round trip"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to attempt each command"))

	key = "pipeline-depth"
	cmd.PersistentFlags().Int(key, 256, WrapString("Maximum number of outstanding requests per connection"))

	key = "keepalive"
	cmd.PersistentFlags().Int(key, 30, WrapString("Idle interval in seconds after which the connection is probed (0 disables)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("Log level (debug, info, warn, error)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("respkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	conf := &common.ClientConfig{
		Endpoints:       strings.Split(viper.GetString("endpoints"), ","),
		Clustered:       viper.GetBool("cluster"),
		Username:        viper.GetString("username"),
		Password:        viper.GetString("password"),
		Database:        viper.GetInt("database"),
		Protocol:        viper.GetInt("protocol"),
		TimeoutSecond:   viper.GetInt("timeout"),
		RetryCount:      viper.GetInt("retries"),
		PipelineDepth:   viper.GetInt("pipeline-depth"),
		KeepAliveSecond: viper.GetInt("keepalive"),
		LogLevel:        viper.GetString("log-level"),
	}

	if viper.GetBool("tls") {
		conf.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return conf
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
