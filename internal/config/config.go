// Package cfg binds CuttleFS's command-line flags and an optional YAML
// config file into a single Config struct via spf13/viper, mirroring the
// teacher's cfg.Config / cfg.BindFlags pattern.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully-resolved set of knobs for one CuttleFS mount.
type Config struct {
	BackingFile string `yaml:"backing-file" mapstructure:"backing-file"`
	FaultList   string `yaml:"fault-list" mapstructure:"fault-list"`
	Policy      string `yaml:"policy" mapstructure:"policy"`

	Control ControlConfig `yaml:"control" mapstructure:"control"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// ControlConfig configures the HTTP control channel (§6.4).
type ControlConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LoggingConfig configures the default logger (§1.1 AMBIENT STACK).
type LoggingConfig struct {
	FilePath string `yaml:"file-path" mapstructure:"file-path"`
	Format   string `yaml:"format" mapstructure:"format"`
	Severity string `yaml:"severity" mapstructure:"severity"`
}

// DefaultPolicy is the fsync policy variant used when --policy is unset.
const DefaultPolicy = "ext4-ordered"

// BindFlags registers every CuttleFS flag on flagSet and binds it into
// viper under the matching dotted key, the way the teacher's
// cfg.BindFlags does for gcsfuse's flags.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("backing-file", "", "cuttlefs.blocks", "Path to the single backing file holding block data.")
	if err = viper.BindPFlag("backing-file", flagSet.Lookup("backing-file")); err != nil {
		return err
	}

	flagSet.StringP("fault-list", "", "", "Path to a YAML fault-list document to install at startup.")
	if err = viper.BindPFlag("fault-list", flagSet.Lookup("fault-list")); err != nil {
		return err
	}

	flagSet.StringP("policy", "", DefaultPolicy, "Fsync policy: ext4-ordered, xfs, ext4-data, or btrfs.")
	if err = viper.BindPFlag("policy", flagSet.Lookup("policy")); err != nil {
		return err
	}

	flagSet.StringP("control-addr", "", "127.0.0.1:9898", "Listen address for the HTTP control channel.")
	if err = viper.BindPFlag("control.addr", flagSet.Lookup("control-addr")); err != nil {
		return err
	}

	flagSet.StringP("log-path", "", "", "Log file path, or empty to log to stderr.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-path")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "json", "Log format: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "INFO", "Log severity: TRACE, DEBUG, INFO, WARNING, ERROR, or OFF.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	return nil
}
