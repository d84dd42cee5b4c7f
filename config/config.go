// Package config loads optional networking tunables from
// $HOME/.salt/config.yaml, adapted from the teacher codebase's
// credentials-directory pattern (cfg/dir.go, cfg/credentials.go): same
// homedir-lookup-then-viper idiom, repurposed from API credentials to
// buffer sizes and retry defaults. All values are optional; the spec's
// hard defaults apply whenever the file or a key is absent.
package config

import (
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/go-salt/salt/printer"
)

// Defaults mirror spec.md §3/§4.5: a 1024-byte receive buffer, a
// 256-item send queue, and a zero (immediate) retry interval.
const (
	DefaultReceiveBufferSize = 1024
	DefaultSendQueueCapacity = 256
	DefaultRetryIntervalSecs = 0
)

// Tunables holds the networking defaults a deployment may override.
type Tunables struct {
	ReceiveBufferSize int
	SendQueueCapacity int
	RetryIntervalSecs int
}

// Load reads $HOME/.salt/config.yaml if present and returns the effective
// tunables, falling back to the package defaults for any key that is
// absent or the file that does not exist. Load never fails: a missing or
// unreadable file is logged at debug level and defaults are used, the
// same posture the teacher's config loader takes toward a missing
// credentials file.
func Load() Tunables {
	t := Tunables{
		ReceiveBufferSize: DefaultReceiveBufferSize,
		SendQueueCapacity: DefaultSendQueueCapacity,
		RetryIntervalSecs: DefaultRetryIntervalSecs,
	}

	dir, err := configDir()
	if err != nil {
		printer.Debugln("config: could not determine config directory, using defaults:", err)
		return t
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		printer.Debugln("config: no config file loaded, using defaults:", err)
		return t
	}

	if v.IsSet("receive_buffer_size") {
		t.ReceiveBufferSize = v.GetInt("receive_buffer_size")
	}
	if v.IsSet("send_queue_capacity") {
		t.SendQueueCapacity = v.GetInt("send_queue_capacity")
	}
	if v.IsSet("retry_interval_seconds") {
		t.RetryIntervalSecs = v.GetInt("retry_interval_seconds")
	}
	return t
}

func configDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".salt")
	if stat, err := os.Stat(dir); os.IsNotExist(err) {
		return dir, nil
	} else if err != nil {
		return "", err
	} else if !stat.IsDir() {
		return "", os.ErrExist
	}
	return dir, nil
}
