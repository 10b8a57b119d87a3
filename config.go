package mediatorrent

import (
	"io/ioutil"
	"os"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v1"
)

// Config is process-wide settings shared by every Download the embedding
// media server creates.
type Config struct {
	// Port is the listen port peers connect back to.
	Port uint16 `yaml:"port"`

	// TickInterval is how often the engine's event loop wakes on its own,
	// absent an inbound command.
	TickInterval time.Duration `yaml:"tick_interval"`

	// MaxConnectionsPerTorrent caps simultaneous peer connections for one
	// Download; Params.MaxConnections overrides this per-torrent.
	MaxConnectionsPerTorrent int `yaml:"max_connections_per_torrent"`

	// DataDir is where resume state (internal/resumer) is kept.
	DataDir string `yaml:"data_dir"`
}

// DefaultConfig mirrors the engine's built-in defaults from the wire and
// scheduling design: a 500ms tick and an 80-connection cap.
var DefaultConfig = Config{
	Port:                     6881,
	TickInterval:             500 * time.Millisecond,
	MaxConnectionsPerTorrent: DefaultMaxConnections,
	DataDir:                  defaultDataDir(),
}

func defaultDataDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".mediatorrent"
	}
	return home + "/.mediatorrent"
}

// LoadConfig reads filename as YAML over DefaultConfig, expanding a leading
// "~" in DataDir; a missing file is not an error.
func LoadConfig(filename string) (*Config, error) {
	c := DefaultConfig
	b, err := ioutil.ReadFile(filename)
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if c.DataDir, err = homedir.Expand(c.DataDir); err != nil {
		return nil, err
	}
	return &c, nil
}
