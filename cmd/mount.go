package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/WiscADSL/cuttlefs/internal/block"
	cfgpkg "github.com/WiscADSL/cuttlefs/internal/config"
	"github.com/WiscADSL/cuttlefs/internal/control"
	"github.com/WiscADSL/cuttlefs/internal/facade"
	"github.com/WiscADSL/cuttlefs/internal/faultlist"
	"github.com/WiscADSL/cuttlefs/internal/fsyncpolicy"
	"github.com/WiscADSL/cuttlefs/internal/fuseadapter"
	"github.com/WiscADSL/cuttlefs/internal/logger"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
)

// newPolicy constructs the Fsync Policy Engine variant named by cfg.Policy.
func newPolicy(name string) (fsyncpolicy.Policy, error) {
	switch name {
	case "", "ext4-ordered", "xfs":
		return fsyncpolicy.NewGenericFsync(), nil
	case "ext4-data":
		return fsyncpolicy.NewExt4Data(), nil
	case "btrfs":
		return fsyncpolicy.NewBtrfs(), nil
	default:
		return nil, fmt.Errorf("cmd: unknown fsync policy %q", name)
	}
}

// runMount wires Block Manager -> Fsync Policy -> Filesystem Facade ->
// Fuse Adapter -> fuse.Mount, and starts the control HTTP server as a
// goroutine -- the one sanctioned exception to the single-threaded
// cooperative model (spec.md §5).
func runMount(backingDir, mountPoint string, cfg cfgpkg.Config) error {
	if err := logger.Init(logger.Config{
		FilePath: cfg.Logging.FilePath,
		Format:   cfg.Logging.Format,
		Severity: cfg.Logging.Severity,
	}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	if err := os.MkdirAll(backingDir, 0o755); err != nil {
		return fmt.Errorf("creating backing dir: %w", err)
	}

	backingFile := cfg.BackingFile
	if backingFile == "" {
		backingFile = "cuttlefs.blocks"
	}
	blocksPath := backingDir + "/" + backingFile

	blocks, err := block.Open(blocksPath)
	if err != nil {
		return fmt.Errorf("opening block manager: %w", err)
	}

	if cfg.FaultList != "" {
		entries, err := faultlist.Load(cfg.FaultList)
		if err != nil {
			return fmt.Errorf("loading fault list: %w", err)
		}
		// Entries name logical paths inside the mount; bwrite refs carry
		// the host realpath the Facade derives from them.
		for i := range entries {
			entries[i].Path = filepath.Join(backingDir, entries[i].Path)
		}
		if err := faultlist.Apply(blocks, entries); err != nil {
			return fmt.Errorf("applying fault list: %w", err)
		}
	}

	policy, err := newPolicy(cfg.Policy)
	if err != nil {
		return err
	}

	fac, err := facade.New(backingDir, blocks, policy)
	if err != nil {
		return fmt.Errorf("constructing facade: %w", err)
	}

	adapter := fuseadapter.New(backingDir, fac, uint32(os.Getuid()), uint32(os.Getgid()))
	server := fuseutil.NewFileSystemServer(adapter)

	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return fmt.Errorf("creating mount point: %w", err)
	}

	mfs, err := fuse.Mount(mountPoint, server, &fuse.MountConfig{
		FSName:  "cuttlefs",
		Options: map[string]string{},
	})
	if err != nil {
		return fmt.Errorf("fuse.Mount: %w", err)
	}

	if cfg.Control.Addr != "" {
		ctrl := control.NewServer(fac)
		go func() {
			if err := http.ListenAndServe(cfg.Control.Addr, ctrl); err != nil {
				logger.Errorf("control server stopped: %v", err)
			}
		}()
	}

	logger.Infof("cuttlefs mounted at %s (backing %s, policy %s)", mountPoint, blocksPath, cfg.Policy)

	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("mfs.Join: %w", err)
	}

	return blocks.Sync()
}
