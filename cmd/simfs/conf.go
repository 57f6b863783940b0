/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */
package main

import (
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/vorteil/simfs/pkg/disk"
	"github.com/vorteil/simfs/pkg/elog"
)

const configFileName = "simfs"

// initConfig reads in the config file, using defaults if none is found.
// Recognised keys: image, inodes, blocks, block-size.
func initConfig(cfgFile string, log elog.View) {

	viper.SetDefault("inodes", disk.DefaultNumInodes)
	viper.SetDefault("blocks", disk.DefaultNumBlocks)
	viper.SetDefault("block-size", disk.DefaultBlockSize)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".simfs"))
		viper.SetConfigName(configFileName)
	}

	if err := viper.ReadInConfig(); err == nil {
		log.Debugf("using config file: %s", viper.ConfigFileUsed())
	} else {
		log.Debugf("no config file loaded: %v", err)
	}
}

// imagePath returns the disk image location: the --image flag, then the
// config file, then ~/.simfs/simulated_disk.img, then the working directory.
func imagePath() string {

	if flagImage != "" {
		return flagImage
	}
	if path := viper.GetString("image"); path != "" {
		return path
	}

	home, err := homedir.Dir()
	if err != nil {
		return disk.DefaultImagePath
	}
	return filepath.Join(home, ".simfs", disk.DefaultImagePath)
}

func geometry() (numInodes, numBlocks, blockSize int) {
	return viper.GetInt("inodes"), viper.GetInt("blocks"), viper.GetInt("block-size")
}
