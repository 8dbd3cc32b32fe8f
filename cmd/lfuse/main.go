package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"lfuse/internal/logging"
	"lfuse/internal/session"
	"lfuse/internal/sysio"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"
)

var (
	logger = logging.GetLogger()
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: %s [options] <mountpoint>

Mounts $HOME/%s, accessed through the backing I/O library, at <mountpoint>.

`, os.Args[0], session.RootDirName)
	flag.PrintDefaults()
}

func main() {
	mountOpts := flag.String("o", "", "comma separated mount options (allow_other, default_permissions, ro, nonempty, async_read, fsname=, subtype=, max_readahead=)")
	debug := flag.Bool("d", false, "Trace FUSE protocol messages")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics", "", "`host:port` to serve prometheus metrics on")
	flag.Usage = usage
	flag.Parse()

	if *verbose && logger.Level() < logging.LevelDebug {
		logger.SetLevel(logging.LevelDebug)
	}
	if *debug {
		fuse.Debug = func(msg interface{}) {
			logger.Debug("fuse: %v", msg)
		}
		if logger.Level() < logging.LevelDebug {
			logger.SetLevel(logging.LevelDebug)
		}
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	mountPoint := filepath.Clean(flag.Arg(0))

	options, err := session.ParseOptions(*mountOpts)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	// modes from the kernel are applied as given
	unix.Umask(0)

	s, err := session.New(session.Config{
		MountPoint:  mountPoint,
		Options:     options,
		MetricsAddr: *metricsAddr,
	}, sysio.NewLocal())
	if err != nil {
		logger.Error("fatal error: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Serve(ctx); err != nil {
		logger.Error("%v", err)
		stop()
		os.Exit(1)
	}
	logger.Info("Clean shutdown complete")
}
