package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".pwalk"
	configFile string = "config.yml"
)

const (
	// DefaultMaxFrames is the unwind bound used when max-frames is unset.
	DefaultMaxFrames = 256
	// DefaultSymbolCacheSize is the number of resolved addresses kept per
	// process when symbol-cache-size is unset.
	DefaultSymbolCacheSize = 4096
	// DefaultSessionCacheSize is the number of processes the tracer keeps
	// open between walks when session-cache-size is unset.
	DefaultSessionCacheSize = 8
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// MaxFrames is the maximum number of frames produced by a single walk.
	MaxFrames *int `yaml:"max-frames,omitempty"`

	// ProcessAccess and ThreadAccess list the access rights requested when
	// opening the target process and thread. Empty means the defaults.
	ProcessAccess []string `yaml:"process-access,omitempty"`
	ThreadAccess  []string `yaml:"thread-access,omitempty"`

	// SymbolSearchPath is handed to the symbol subsystem on initialization.
	// Only local directories are supported.
	SymbolSearchPath string `yaml:"symbol-search-path,omitempty"`

	// SymbolCacheSize is the number of resolved addresses cached per process.
	SymbolCacheSize *int `yaml:"symbol-cache-size,omitempty"`

	// SessionCacheSize is the number of processes kept open between walks.
	// Zero disables caching: every walk opens and closes its own session.
	SessionCacheSize *int `yaml:"session-cache-size,omitempty"`

	// If ShowInstruction is true every frame is annotated with the
	// disassembled instruction at its program counter.
	ShowInstruction bool `yaml:"show-instruction"`

	// DisassembleFlavor is the syntax of annotated instructions: intel, gnu
	// or go.
	DisassembleFlavor string `yaml:"disassemble-flavor,omitempty"`

	// NoColor disables ANSI colors in the terminal output.
	NoColor bool `yaml:"no-color"`

	// Timeout bounds a single stack walk, for example "5s". Empty means no
	// timeout.
	Timeout string `yaml:"timeout,omitempty"`
}

// GetMaxFrames returns the configured unwind bound.
func (c *Config) GetMaxFrames() int {
	if c.MaxFrames == nil || *c.MaxFrames <= 0 {
		return DefaultMaxFrames
	}
	return *c.MaxFrames
}

// GetSymbolCacheSize returns the configured size of the resolved address cache.
func (c *Config) GetSymbolCacheSize() int {
	if c.SymbolCacheSize == nil || *c.SymbolCacheSize <= 0 {
		return DefaultSymbolCacheSize
	}
	return *c.SymbolCacheSize
}

// GetSessionCacheSize returns the configured number of cached sessions.
func (c *Config) GetSessionCacheSize() int {
	if c.SessionCacheSize == nil || *c.SessionCacheSize < 0 {
		return DefaultSessionCacheSize
	}
	return *c.SessionCacheSize
}

// GetTimeout parses the configured walk timeout.
func (c *Config) GetTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %v", c.Timeout, err)
	}
	return d, nil
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}
	return LoadConfigFile(fullConfigFile)
}

// LoadConfigFile reads the configuration stored at path, writing the
// default configuration there first if the file does not exist.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		f, err = createDefaultConfig(path)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}

	if len(c.Aliases) == 0 {
		c.Aliases = make(map[string][]string)
	}

	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for pwalk.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Maximum number of frames produced by a single stack walk.
# max-frames: 256

# Access rights used to open the target process and thread.
# Valid names: all, query, query-limited, vm-read, suspend-resume, get-context.
# process-access: ["all"]
# thread-access: ["all"]

# Local directories searched for symbol files, separated by semicolons.
# symbol-search-path: "C:\\symbols"

# Number of resolved addresses cached per process.
# symbol-cache-size: 4096

# Number of processes kept open between walks, 0 opens a new session for every walk.
# session-cache-size: 8

# Uncomment the following line to print the instruction at every frame's program counter.
# show-instruction: true

# Syntax of the instruction annotations, one of intel, gnu or go.
# disassemble-flavor: intel

# Uncomment the following line to disable colored output.
# no-color: true

# Maximum duration of a single stack walk.
# timeout: "10s"
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
