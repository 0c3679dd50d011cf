package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Transport and protocol selectors.
const (
	TransportVsock    = "vsock"
	TransportLoopback = "loopback"

	ProtocolRaw  = "raw"
	ProtocolHTTP = "http"
)

const (
	defaultTransport    = TransportVsock
	defaultProtocol     = ProtocolRaw
	defaultVsockPort    = 1024
	defaultLoopbackAddr = "127.0.0.1:8080"
	defaultMaxPayload   = 16 << 20
	defaultDataVar      = "DATA"
	defaultWorkDir      = "/work"
	defaultRunCommand   = "node"
	defaultNetInterface = "eth0"

	envConfigFile   = "FCAGENT_CONFIG"
	envTransport    = "FCAGENT_TRANSPORT"
	envProtocol     = "FCAGENT_PROTOCOL"
	envVsockCID     = "FCAGENT_VSOCK_CID"
	envVsockPort    = "FCAGENT_VSOCK_PORT"
	envLoopbackAddr = "FCAGENT_LOOPBACK_ADDR"
	envMetricsAddr  = "FCAGENT_METRICS_ADDR"
	envMaxPayload   = "FCAGENT_MAX_PAYLOAD"
	envDataVar      = "FCAGENT_DATA_VAR"
	envWorkDir      = "FCAGENT_WORK_DIR"
	envRunCommand   = "FCAGENT_RUN_COMMAND"
	envExecTimeout  = "FCAGENT_EXEC_TIMEOUT"
	envDrainTimeout = "FCAGENT_DRAIN_TIMEOUT"
	envRedactArgs   = "FCAGENT_REDACT_ARGS"
	envJournalPath  = "FCAGENT_JOURNAL_PATH"
	envNetInterface = "FCAGENT_NET_IFACE"
	envNetAddress   = "FCAGENT_NET_ADDR"
	envNetGateway   = "FCAGENT_NET_GATEWAY"
	envSubreaper    = "FCAGENT_SUBREAPER"
	envLogLevel     = "FCAGENT_LOG_LEVEL"
)

// Config holds agent configuration. Values come from defaults, then an
// optional TOML file named by FCAGENT_CONFIG, then environment variables.
type Config struct {
	Transport    string
	Protocol     string
	VsockCID     uint32
	VsockPort    uint32
	LoopbackAddr string
	MetricsAddr  string
	MaxPayload   uint64

	DataVar     string
	WorkDir     string
	RunCommand  string
	ExecTimeout time.Duration

	DrainTimeout time.Duration
	RedactArgs   bool
	JournalPath  string

	NetInterface string
	NetAddress   string
	NetGateway   string
	Subreaper    bool

	LogLevel slog.Level
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Transport:    defaultTransport,
		Protocol:     defaultProtocol,
		VsockPort:    defaultVsockPort,
		LoopbackAddr: defaultLoopbackAddr,
		MaxPayload:   defaultMaxPayload,
		DataVar:      defaultDataVar,
		WorkDir:      defaultWorkDir,
		RunCommand:   defaultRunCommand,
		NetInterface: defaultNetInterface,
		LogLevel:     slog.LevelInfo,
	}
}

// Load reads configuration from the optional config file and environment
// variables on top of Default.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings the agent cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportVsock, TransportLoopback:
	default:
		errs = append(errs, fmt.Errorf("transport %q: want %q or %q", c.Transport, TransportVsock, TransportLoopback))
	}
	switch c.Protocol {
	case ProtocolRaw, ProtocolHTTP:
	default:
		errs = append(errs, fmt.Errorf("protocol %q: want %q or %q", c.Protocol, ProtocolRaw, ProtocolHTTP))
	}
	if c.MaxPayload == 0 {
		errs = append(errs, errors.New("max_payload must be positive"))
	}
	if c.DataVar == "" || strings.ContainsAny(c.DataVar, "=\x00") {
		errs = append(errs, fmt.Errorf("data_var %q is not a valid variable name", c.DataVar))
	}
	if c.RunCommand == "" {
		errs = append(errs, errors.New("run_command must not be empty"))
	}
	if c.ExecTimeout < 0 || c.DrainTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

type fileConfig struct {
	Transport    string `toml:"transport"`
	Protocol     string `toml:"protocol"`
	VsockCID     uint32 `toml:"vsock_cid"`
	VsockPort    uint32 `toml:"vsock_port"`
	LoopbackAddr string `toml:"loopback_addr"`
	MetricsAddr  string `toml:"metrics_addr"`
	MaxPayload   uint64 `toml:"max_payload"`
	DataVar      string `toml:"data_var"`
	WorkDir      string `toml:"work_dir"`
	RunCommand   string `toml:"run_command"`
	ExecTimeout  string `toml:"exec_timeout"`
	DrainTimeout string `toml:"drain_timeout"`
	RedactArgs   bool   `toml:"redact_args"`
	JournalPath  string `toml:"journal_path"`
	NetInterface string `toml:"net_iface"`
	NetAddress   string `toml:"net_addr"`
	NetGateway   string `toml:"net_gateway"`
	Subreaper    bool   `toml:"subreaper"`
	LogLevel     string `toml:"log_level"`
}

func (c *Config) loadFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config file: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("transport") {
		c.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("protocol") {
		c.Protocol = strings.TrimSpace(raw.Protocol)
	}
	if meta.IsDefined("vsock_cid") {
		c.VsockCID = raw.VsockCID
	}
	if meta.IsDefined("vsock_port") {
		c.VsockPort = raw.VsockPort
	}
	if meta.IsDefined("loopback_addr") {
		c.LoopbackAddr = strings.TrimSpace(raw.LoopbackAddr)
	}
	if meta.IsDefined("metrics_addr") {
		c.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("max_payload") {
		c.MaxPayload = raw.MaxPayload
	}
	if meta.IsDefined("data_var") {
		c.DataVar = strings.TrimSpace(raw.DataVar)
	}
	if meta.IsDefined("work_dir") {
		c.WorkDir = strings.TrimSpace(raw.WorkDir)
	}
	if meta.IsDefined("run_command") {
		c.RunCommand = strings.TrimSpace(raw.RunCommand)
	}
	if meta.IsDefined("exec_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ExecTimeout))
		if err != nil {
			return fmt.Errorf("parse exec_timeout: %w", err)
		}
		c.ExecTimeout = d
	}
	if meta.IsDefined("drain_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DrainTimeout))
		if err != nil {
			return fmt.Errorf("parse drain_timeout: %w", err)
		}
		c.DrainTimeout = d
	}
	if meta.IsDefined("redact_args") {
		c.RedactArgs = raw.RedactArgs
	}
	if meta.IsDefined("journal_path") {
		c.JournalPath = strings.TrimSpace(raw.JournalPath)
	}
	if meta.IsDefined("net_iface") {
		c.NetInterface = strings.TrimSpace(raw.NetInterface)
	}
	if meta.IsDefined("net_addr") {
		c.NetAddress = strings.TrimSpace(raw.NetAddress)
	}
	if meta.IsDefined("net_gateway") {
		c.NetGateway = strings.TrimSpace(raw.NetGateway)
	}
	if meta.IsDefined("subreaper") {
		c.Subreaper = raw.Subreaper
	}
	if meta.IsDefined("log_level") {
		level, err := parseLogLevel(raw.LogLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		c.LogLevel = level
	}
	return nil
}

func (c *Config) loadEnv() error {
	if v := os.Getenv(envTransport); v != "" {
		c.Transport = v
	}
	if v := os.Getenv(envProtocol); v != "" {
		c.Protocol = v
	}
	if v := os.Getenv(envVsockCID); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envVsockCID, err)
		}
		c.VsockCID = uint32(n)
	}
	if v := os.Getenv(envVsockPort); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envVsockPort, err)
		}
		c.VsockPort = uint32(n)
	}
	if v := os.Getenv(envLoopbackAddr); v != "" {
		c.LoopbackAddr = v
	}
	if v := os.Getenv(envMetricsAddr); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv(envMaxPayload); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envMaxPayload, err)
		}
		c.MaxPayload = n
	}
	if v := os.Getenv(envDataVar); v != "" {
		c.DataVar = v
	}
	if v := os.Getenv(envWorkDir); v != "" {
		c.WorkDir = v
	}
	if v := os.Getenv(envRunCommand); v != "" {
		c.RunCommand = v
	}
	if v := os.Getenv(envExecTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envExecTimeout, err)
		}
		c.ExecTimeout = d
	}
	if v := os.Getenv(envDrainTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envDrainTimeout, err)
		}
		c.DrainTimeout = d
	}
	if v := os.Getenv(envRedactArgs); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envRedactArgs, err)
		}
		c.RedactArgs = b
	}
	if v := os.Getenv(envJournalPath); v != "" {
		c.JournalPath = v
	}
	if v := os.Getenv(envNetInterface); v != "" {
		c.NetInterface = v
	}
	if v := os.Getenv(envNetAddress); v != "" {
		c.NetAddress = v
	}
	if v := os.Getenv(envNetGateway); v != "" {
		c.NetGateway = v
	}
	if v := os.Getenv(envSubreaper); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envSubreaper, err)
		}
		c.Subreaper = b
	}
	if v := os.Getenv(envLogLevel); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envLogLevel, err)
		}
		c.LogLevel = level
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
