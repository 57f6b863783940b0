/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vorteil/simfs/pkg/auth"
	"github.com/vorteil/simfs/pkg/disk"
	"github.com/vorteil/simfs/pkg/elog"
	"github.com/vorteil/simfs/pkg/fs"
)

var (
	release = "0.0.0"
	commit  = ""
)

var log elog.View

var (
	flagVerbose bool
	flagDebug   bool
	flagConfig  string
	flagImage   string
)

// System bundles the core objects a command operates on. There are no
// globals in the core: one of these is built in main and threaded through.
type System struct {
	dm    *disk.Manager
	fs    *fs.FS
	auth  *auth.Authenticator
	image string
}

func main() {

	commandInit()

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func commandInit() {

	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a simfs config file")
	rootCmd.PersistentFlags().StringVar(&flagImage, "image", "", "path to the disk image file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {

		logger := &elog.CLI{}

		logrus.SetFormatter(logger)
		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}

		log = logger
		initConfig(flagConfig, log)
		return nil
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(shellCmd)
}

var rootCmd = &cobra.Command{
	Use:   "simfs",
	Short: "Simulated UNIX-style filesystem",
	Long: `Simfs maintains a complete UNIX-style filesystem inside a single
image file: inodes, data blocks, directories, hard and symbolic links,
per-file permissions, and user sessions. The shell subcommand opens an
interactive prompt against the image.`,
	Run: func(cmd *cobra.Command, args []string) {
		shellCmd.Run(cmd, args)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "View simfs version information",
	Run: func(cmd *cobra.Command, args []string) {
		log.Printf("simfs %s (%s)", release, commit)
	},
}

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Create a freshly formatted disk image",
	Run: func(cmd *cobra.Command, args []string) {

		sys, err := bootstrap(true)
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		if err = sys.save(); err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		log.Printf("formatted disk image written to %s", sys.image)
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open an interactive shell against the disk image",
	Run: func(cmd *cobra.Command, args []string) {

		sys, err := bootstrap(false)
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		if err = sys.repl(os.Stdin, os.Stdout); err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
	},
}

// bootstrap loads the configured image, or formats a fresh disk when the
// image is missing or a fresh format was requested.
func bootstrap(fresh bool) (*System, error) {

	path := imagePath()

	var dm *disk.Manager
	var err error

	if !fresh {
		dm, err = disk.Load(path, log)
		if err != nil && err != disk.ErrNoImage {
			return nil, err
		}
		if err == disk.ErrNoImage {
			log.Warnf("no disk image at %s; formatting a fresh disk", path)
		}
	}

	if dm == nil {
		dm = disk.NewManager(log)
		if err = dm.Format(geometry()); err != nil {
			return nil, err
		}
	}

	sys := &System{
		dm:    dm,
		fs:    fs.New(dm, log),
		auth:  auth.NewAuthenticator(log),
		image: path,
	}
	return sys, nil
}
