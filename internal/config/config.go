// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// ErrSpecNotFound is returned when a spectrograph has no configuration
	ErrSpecNotFound = errors.New("spec not found in configuration")
	// ErrCameraNotFound is returned when a camera has no configuration
	ErrCameraNotFound = errors.New("configuration not found for camera")
)

const (
	DefaultReplyTimeout = 100 * time.Millisecond
	DefaultLogFile      = "/home/lvm/logs/pressure/pressure.log"
)

// Config represents the application configuration
type Config struct {
	Specs   map[string]map[string]CameraConfig `mapstructure:"specs"`
	Logging LoggingConfig                      `mapstructure:"logging"`
	Status  StatusConfig                       `mapstructure:"status"`
	App     AppConfig                          `mapstructure:"app"`
}

// CameraConfig represents the bridge for one camera's pressure transducer.
// Camera and spec names are case-insensitive and stored in lower case.
type CameraConfig struct {
	Port      int           `mapstructure:"port"`
	Host      string        `mapstructure:"host"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Delimiter string        `mapstructure:"delimiter"`
	Device    DeviceConfig  `mapstructure:"device"`
}

// DeviceConfig represents the serial device parameters
type DeviceConfig struct {
	URL      string  `mapstructure:"url"`
	BaudRate int     `mapstructure:"baud_rate"`
	DataBits int     `mapstructure:"data_bits"`
	StopBits float64 `mapstructure:"stop_bits"`
	Parity   string  `mapstructure:"parity"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	FileEnabled bool   `mapstructure:"file_enabled"`
	File        string `mapstructure:"file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
}

// StatusConfig represents the HTTP status server configuration
type StatusConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from a file, environment variables and flags.
// When configFile is empty the usual locations are searched for
// lvm_spec_pressure.yaml.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("lvm_spec_pressure")
		v.SetConfigType("yaml")
		v.AddConfigPath("./etc")
		v.AddConfigPath("/etc/lvm_spec_pressure")
		v.AddConfigPath(".")
	}

	// Environment variable support
	v.SetEnvPrefix("LVM_SPEC_PRESSURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if flag := flags.Lookup("debug"); flag != nil {
			if err := v.BindPFlag("app.debug", flag); err != nil {
				return nil, fmt.Errorf("failed to bind debug flag: %w", err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	config.applyDefaults()

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_enabled", false)
	v.SetDefault("logging.file", DefaultLogFile)
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Status server defaults
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.host", "0.0.0.0")
	v.SetDefault("status.port", 8180)
	v.SetDefault("status.read_timeout", "10s")
	v.SetDefault("status.write_timeout", "10s")

	// App defaults
	v.SetDefault("app.name", "lvm-spec-pressure")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "production")
	v.SetDefault("app.debug", false)
}

// applyDefaults fills in per-camera values that viper cannot default
// because the keys are not known in advance
func (c *Config) applyDefaults() {
	for spec, cameras := range c.Specs {
		for name, camera := range cameras {
			if camera.Timeout == 0 {
				camera.Timeout = DefaultReplyTimeout
			}
			if camera.Device.BaudRate == 0 {
				camera.Device.BaudRate = 9600
			}
			if camera.Device.DataBits == 0 {
				camera.Device.DataBits = 8
			}
			if camera.Device.StopBits == 0 {
				camera.Device.StopBits = 1
			}
			if camera.Device.Parity == "" {
				camera.Device.Parity = "none"
			}
			cameras[name] = camera
		}
		c.Specs[spec] = cameras
	}

	if c.App.Debug {
		c.Logging.Level = "debug"
		c.Logging.FileEnabled = true
	}
}

// validate validates the configuration
func validate(config *Config) error {
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	if config.Status.Enabled && (config.Status.Port <= 0 || config.Status.Port > 65535) {
		return fmt.Errorf("status.port out of range: %d", config.Status.Port)
	}

	for spec, cameras := range config.Specs {
		ports := make(map[int]string)
		for name, camera := range cameras {
			key := spec + "." + name
			if camera.Port <= 0 || camera.Port > 65535 {
				return fmt.Errorf("specs.%s.port out of range: %d", key, camera.Port)
			}
			if other, exists := ports[camera.Port]; exists {
				return fmt.Errorf("specs.%s.port %d already used by %s", key, camera.Port, other)
			}
			ports[camera.Port] = name

			if camera.Device.URL == "" {
				return fmt.Errorf("specs.%s.device.url is required", key)
			}
			if camera.Timeout < 0 {
				return fmt.Errorf("specs.%s.timeout must not be negative", key)
			}
		}
	}

	return nil
}

// Cameras returns the sorted camera names configured for spec
func (c *Config) Cameras(spec string) ([]string, error) {
	cameras, ok := c.Specs[strings.ToLower(spec)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpecNotFound, spec)
	}

	names := make([]string, 0, len(cameras))
	for name := range cameras {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Camera returns the configuration of one camera
func (c *Config) Camera(spec, camera string) (*CameraConfig, error) {
	cameras, ok := c.Specs[strings.ToLower(spec)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpecNotFound, spec)
	}

	cfg, ok := cameras[strings.ToLower(camera)]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrCameraNotFound, camera)
	}
	return &cfg, nil
}

// DelimiterBytes returns the reply delimiter, with backslash escapes such
// as \r or \n expanded. An empty result means no delimiter.
func (c *CameraConfig) DelimiterBytes() []byte {
	if c.Delimiter == "" {
		return nil
	}
	if strings.Contains(c.Delimiter, `\`) {
		if unquoted, err := strconv.Unquote(`"` + c.Delimiter + `"`); err == nil {
			return []byte(unquoted)
		}
	}
	return []byte(c.Delimiter)
}

// GetStatusAddr returns the status server address
func (c *Config) GetStatusAddr() string {
	return fmt.Sprintf("%s:%d", c.Status.Host, c.Status.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
