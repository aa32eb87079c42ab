package conf

import (
	"os"
	"path/filepath"

	"github.com/xmemtx/xstm-server/logger"

	"gopkg.in/ini.v1"
)

var ConfigPath string

var configLog = logger.Component("config")

type CommandLineArgs struct {
	ConfigPath string
}

// Cfg holds the engine's ambient configuration: region defaults and
// logging. Everything transaction-specific (alignment, sizes) is still
// supplied per-call by the client; these are only the defaults a
// standalone process (the demo binaries, mainly) falls back to.
type Cfg struct {
	Raw *ini.File

	AppName string

	// engine
	DefaultRegionSize uint64 `default:"1048576" yaml:"default_region_size" json:"default_region_size,omitempty"`
	DefaultAlignment  uint64 `default:"8" yaml:"default_alignment" json:"default_alignment,omitempty"`

	// logs
	LogError string `default:"" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:               ini.Empty(),
		AppName:           "xstm",
		DefaultRegionSize: 1 << 20,
		DefaultAlignment:  8,
		LogLevel:          "info",
	}
}

// Load reads an ini file (if args.ConfigPath points to one) and overlays
// its [engine]/[logs] sections on top of the defaults from NewCfg.
// A missing file is not an error: the defaults stand on their own.
func (cfg *Cfg) Load(args *CommandLineArgs) *Cfg {
	setHomePath(args)

	iniFile, err := cfg.loadConfiguration(args)
	if err != nil {
		configLog.Warnf("no usable config file, using defaults: %v", err)
		return cfg
	}
	cfg.Raw = iniFile

	cfg.parseEngineCfg(cfg.Raw.Section("engine"))
	cfg.parseLogsCfg(cfg.Raw.Section("logs"))
	return cfg
}

func setHomePath(args *CommandLineArgs) {
	if args.ConfigPath != "" {
		ConfigPath = args.ConfigPath
		return
	}
	ConfigPath, _ = filepath.Abs(".")
}

func (cfg *Cfg) loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	if args.ConfigPath == "" {
		return nil, os.ErrNotExist
	}
	return ini.Load(args.ConfigPath)
}

func (cfg *Cfg) parseEngineCfg(section *ini.Section) {
	if section == nil {
		return
	}
	if key, err := section.GetKey("default_region_size"); err == nil {
		if v, err := key.Uint64(); err == nil {
			cfg.DefaultRegionSize = v
		}
	}
	if key, err := section.GetKey("default_alignment"); err == nil {
		if v, err := key.Uint64(); err == nil {
			cfg.DefaultAlignment = v
		}
	}
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) {
	if section == nil {
		return
	}
	if key, err := section.GetKey("log_error"); err == nil {
		cfg.LogError = key.String()
	}
	if key, err := section.GetKey("log_infos"); err == nil {
		cfg.LogInfos = key.String()
	}
	if key, err := section.GetKey("log_level"); err == nil {
		cfg.LogLevel = key.String()
	}
}

// InitLogging wires this config's log section into the logger package.
func (cfg *Cfg) InitLogging() error {
	return logger.Init(logger.Config{
		ErrorLogPath: cfg.LogError,
		InfoLogPath:  cfg.LogInfos,
		LogLevel:     cfg.LogLevel,
	})
}
