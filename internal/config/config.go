// Package config loads the instrument's mechanism configuration.
//
// Settings come from a Java-style properties file (liric.properties by
// default), LIRIC_ environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liric/liric_interface/nudgematic"
	"github.com/spf13/viper"
)

type Poll struct {
	// Mode is "all" or "any".
	Mode string
	// Check is "transport" or "status".
	Check    string
	Timeout  time.Duration
	Max      int
	Interval time.Duration
}

type Nudgematic struct {
	Enable     bool
	DeviceName string `mapstructure:"device_name"`
	OffsetSize string `mapstructure:"offset_size"`
	// Baud overrides the serial line's default rate when non-zero.
	Baud int
	Poll Poll
}

type USBPIO struct {
	Enable     bool
	DeviceName string `mapstructure:"device_name"`
}

type Server struct {
	HTTPAddress    string        `mapstructure:"http_address"`
	CommandAddress string        `mapstructure:"command_address"`
	StaticDir      string        `mapstructure:"static_dir"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

type Influx struct {
	Server string
	Token  string
	Org    string
	Bucket string
}

type Logging struct {
	Level string
}

type Logger struct {
	// Source is the websocket status feed to record.
	Source string
}

type Config struct {
	Simulate   bool
	Logging    Logging
	Nudgematic Nudgematic
	USBPIO     USBPIO `mapstructure:"usb_pio"`
	Server     Server
	Influx     Influx
	Logger     Logger
}

var defaults = map[string]interface{}{
	"simulate":                 false,
	"logging.level":            "info",
	"nudgematic.enable":        true,
	"nudgematic.device_name":   "/dev/ttyACM0",
	"nudgematic.offset_size":   "none",
	"nudgematic.baud":          0,
	"nudgematic.poll.mode":     "all",
	"nudgematic.poll.check":    "transport",
	"nudgematic.poll.timeout":  0,
	"nudgematic.poll.max":      0,
	"nudgematic.poll.interval": 0,
	"usb_pio.enable":           false,
	"usb_pio.device_name":      "/dev/ttyUSB0",
	"server.http_address":      "127.0.0.1:8502",
	"server.command_address":   "127.0.0.1:8284",
	"server.static_dir":        "",
	"server.status_interval":   time.Second,
	"influx.server":            "http://localhost:9999",
	"influx.token":             "",
	"influx.org":               "liric",
	"influx.bucket":            "liric.mechanisms",
	"logger.source":            "ws://localhost:8502/api/ws",
}

// New returns a viper instance with every key defaulted, looking for
// liric.properties in /icc/config and the working directory.
func New() *viper.Viper {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetConfigName("liric")
	v.SetConfigType("properties")
	v.AddConfigPath("/icc/config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("liric")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file, or searches for liric.properties when file is empty, and
// decodes the result. A missing searched-for file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &c, nil
}

// Options converts p to nudgematic poll options.
func (p Poll) Options() (nudgematic.PollOptions, error) {
	opts := nudgematic.PollOptions{
		Timeout:  p.Timeout,
		MaxPolls: p.Max,
		Interval: p.Interval,
	}
	switch strings.ToLower(p.Mode) {
	case "", "all":
		opts.Mode = nudgematic.CompleteAll
	case "any":
		opts.Mode = nudgematic.CompleteAny
	default:
		return opts, fmt.Errorf("unknown poll mode %q", p.Mode)
	}
	switch strings.ToLower(p.Check) {
	case "", "transport":
		opts.Check = nudgematic.CheckTransport
	case "status":
		opts.Check = nudgematic.CheckStatus
	default:
		return opts, fmt.Errorf("unknown poll check %q", p.Check)
	}
	return opts, nil
}
