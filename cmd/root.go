// Package cmd implements CuttleFS's command-line surface: a cobra
// command tree taking a backing directory and mount point, with flags
// bound through internal/config, mirroring the teacher's cmd/root.go /
// cmd/flags.go cobra+viper wiring.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	cfgpkg "github.com/WiscADSL/cuttlefs/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error

	// Config is the fully-resolved configuration for the mount requested
	// on the command line, populated by initConfig once flags are parsed.
	Config cfgpkg.Config
)

var rootCmd = &cobra.Command{
	Use:   "cuttlefs [flags] backing-dir mount-point",
	Short: "Mount a FUSE filesystem that studies fsync/journaling failure semantics",
	Long: `CuttleFS presents a POSIX-like mount point backed by a host directory,
buffering writes in a user-space page cache and persisting them into a
single backing file, with deterministic per-offset fault injection and a
choice of ext4-ordered, ext4-data, XFS, or btrfs fsync reporting semantics.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}

		backingDir, mountPoint, err := resolveArgs(args)
		if err != nil {
			return err
		}

		return runMount(backingDir, mountPoint, Config)
	},
}

func resolveArgs(args []string) (backingDir, mountPoint string, err error) {
	backingDir, err = filepath.Abs(args[0])
	if err != nil {
		return "", "", fmt.Errorf("resolving backing dir: %w", err)
	}
	mountPoint, err = filepath.Abs(args[1])
	if err != nil {
		return "", "", fmt.Errorf("resolving mount point: %w", err)
	}
	return backingDir, mountPoint, nil
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file")
	bindErr = cfgpkg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			configFileErr = fmt.Errorf("reading config file: %w", err)
			return
		}
	}
	unmarshalErr = viper.Unmarshal(&Config)
}
