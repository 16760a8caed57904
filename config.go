package reactor

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// Config holds the knobs cmd/reactor-echo (and any other binary built
// on this package) loads from YAML, grounded on nasa-jpl-golaborate's
// multiserver config-loading idiom (koanf + file.Provider +
// yaml.Parser, defaults pre-populated before the file load so a
// missing file just means "use defaults").
type Config struct {
	ListenAddr    string `koanf:"listen_addr"`
	LogLevel      string `koanf:"log_level"`
	HighWaterMark int    `koanf:"high_water_mark"`
	TCPNoDelay    bool   `koanf:"tcp_nodelay"`
}

// DefaultConfig mirrors the package's own built-in defaults
// (EventLoop's 10s poll timeout aside, which isn't user-tunable).
func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":9981",
		LogLevel:      "info",
		HighWaterMark: defaultHighWaterMark,
		TCPNoDelay:    true,
	}
}

// LoadConfig reads path as YAML over top of DefaultConfig's values. A
// missing file is not an error: the defaults are used as-is, matching
// multiserver's "file missing, who cares" tolerance.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such file") {
			return c, errors.Wrapf(err, "load config %s", path)
		}
		return c, nil
	}
	if err := k.Unmarshal("", &c); err != nil {
		return c, errors.Wrap(err, "unmarshal config")
	}
	return c, nil
}
