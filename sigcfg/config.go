// Package sigcfg holds the configuration of the sigma command line tool.
// Options are read from an ini style config file and can be overridden by
// command line style arguments.
package sigcfg

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/sigmaproto/sigma/build"
	"github.com/sigmaproto/sigma/remotesigner"
)

const (
	// DefaultConfigFilename is the name of the config file within the
	// sigma directory.
	DefaultConfigFilename = "sigma.conf"

	defaultLogDirname  = "logs"
	defaultLogFilename = "sigma.log"
	defaultLogLevel    = "info"
	defaultNetwork     = "mainnet"
)

var (
	// DefaultSigmaDir is the default directory for config and logs:
	//   ~/.sigma on Linux
	//   ~/Library/Application Support/Sigma on MacOS
	DefaultSigmaDir = btcutil.AppDataDir("sigma", false)

	// DefaultConfigFile is the default full path of the config file.
	DefaultConfigFile = filepath.Join(DefaultSigmaDir, DefaultConfigFilename)

	defaultLogDir = filepath.Join(DefaultSigmaDir, defaultLogDirname)
)

// RemoteSigner holds the options of the remote signing service.
//
//nolint:lll
type RemoteSigner struct {
	Host      string        `long:"host" description:"The base URL of the remote signer, e.g. https://signer.example"`
	AuthType  string        `long:"authtype" description:"Where to place the auth token" choice:"header" choice:"query"`
	AuthKey   string        `long:"authkey" description:"The header name or query parameter carrying the auth token"`
	AuthValue string        `long:"authvalue" description:"The auth token"`
	Timeout   time.Duration `long:"timeout" description:"Timeout of a single signing request"`

	MaxClockSkew time.Duration `long:"maxclockskew" description:"Maximum distance between the timestamp of a signer response and the local time, 0 disables the check"`
}

// Config is the configuration of the command line tool.
//
//nolint:lll
type Config struct {
	SigmaDir   string `long:"sigmadir" description:"The base directory that contains the config file and logs"`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	Network    string `long:"network" description:"The network addresses are derived for" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"simnet" choice:"signet"`

	RemoteSigner *RemoteSigner `group:"remotesigner" namespace:"remotesigner"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		SigmaDir:   DefaultSigmaDir,
		ConfigFile: DefaultConfigFile,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
		Network:    defaultNetwork,
		RemoteSigner: &RemoteSigner{
			Timeout: remotesigner.DefaultRequestTimeout,
		},
		LogConfig: build.DefaultLogConfig(),
	}
}

// LoadConfig builds the configuration from the defaults, the config file and
// finally args, which take precedence. A missing config file is not an error.
func LoadConfig(configFile string, args []string) (*Config, error) {
	// Pre-parse the arguments to pick up an alternative sigma directory or
	// config file.
	preCfg := DefaultConfig()
	if _, err := flags.ParseArgs(&preCfg, args); err != nil {
		return nil, err
	}

	if configFile == "" {
		configFile = preCfg.ConfigFile
	}
	configFile = CleanAndExpandPath(configFile)

	// If the sigma directory was changed but the config file was not, the
	// config file is expected within the new directory.
	sigmaDir := CleanAndExpandPath(preCfg.SigmaDir)
	if sigmaDir != DefaultSigmaDir && configFile == DefaultConfigFile {
		configFile = filepath.Join(sigmaDir, DefaultConfigFilename)
	}

	cfg := DefaultConfig()
	var configFileError error
	if err := flags.IniParse(configFile, &cfg); err != nil {
		// Parse errors are fatal, a missing file is not.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// The arguments take precedence over the config file.
	if _, err := flags.ParseArgs(&cfg, args); err != nil {
		return nil, err
	}
	cfg.ConfigFile = configFile

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if configFileError != nil {
		log.Debugf("Config file not loaded: %v", configFileError)
	}

	return &cfg, nil
}

// Validate checks the configuration and normalizes its paths.
func (c *Config) Validate() error {
	sigmaDir := CleanAndExpandPath(c.SigmaDir)
	if sigmaDir != DefaultSigmaDir && c.LogDir == defaultLogDir {
		c.LogDir = filepath.Join(sigmaDir, defaultLogDirname)
	}
	c.SigmaDir = sigmaDir
	c.LogDir = CleanAndExpandPath(c.LogDir)

	if _, err := c.NetParams(); err != nil {
		return err
	}

	if err := c.LogConfig.Validate(); err != nil {
		return err
	}

	rs := c.RemoteSigner
	if rs.AuthValue != "" && (rs.AuthType == "" || rs.AuthKey == "") {
		return errors.New("remotesigner.authvalue requires " +
			"remotesigner.authtype and remotesigner.authkey")
	}
	if rs.Timeout < 0 {
		return fmt.Errorf("invalid remotesigner.timeout %v", rs.Timeout)
	}
	if rs.MaxClockSkew < 0 {
		return fmt.Errorf("invalid remotesigner.maxclockskew %v",
			rs.MaxClockSkew)
	}

	return nil
}

// LogFile returns the path of the rotating log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

// NetParams returns the chain parameters of the configured network.
func (c *Config) NetParams() (*chaincfg.Params, error) {
	switch c.Network {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", c.Network)
	}
}

// RemoteSignerConfig returns the client config of the remote signer, or
// None if no host is configured.
func (c *Config) RemoteSignerConfig() fn.Option[*remotesigner.ClientConfig] {
	rs := c.RemoteSigner
	if rs.Host == "" {
		return fn.None[*remotesigner.ClientConfig]()
	}

	token := fn.None[remotesigner.AuthToken]()
	if rs.AuthValue != "" {
		token = fn.Some(remotesigner.AuthToken{
			Type:  remotesigner.AuthType(rs.AuthType),
			Key:   rs.AuthKey,
			Value: rs.AuthValue,
		})
	}

	return fn.Some(&remotesigner.ClientConfig{
		Host:           rs.Host,
		AuthToken:      token,
		RequestTimeout: rs.Timeout,
		MaxClockSkew:   rs.MaxClockSkew,
	})
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}
