package elog

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
)

// Logger is an interface that has the ability to hide debug/info
type Logger interface {
	Debugf(format string, x ...interface{})
	Errorf(format string, x ...interface{})
	Infof(format string, x ...interface{})
	Printf(format string, x ...interface{})
	Warnf(format string, x ...interface{})
	IsInfoEnabled() bool
	IsDebugEnabled() bool
}

// Progress is a handle on a single progress bar. Increment advances it and
// Finish releases it, aborting the render if the operation failed.
type Progress interface {
	Increment(n int64)
	Finish(success bool)
}

// ProgressReporter is an interface that contains the ability to create a
// Progress bar object.
type ProgressReporter interface {
	NewProgress(label string, units string, total int64) Progress
}

// View is an interface that contains a logger and the ability to create
// progress objects.
type View interface {
	Logger
	ProgressReporter
}

// CLI is a generic object setup for logging to terminal outputs.
type CLI struct {
	DisableColors bool
	DisableTTY    bool
	IsDebug       bool
	IsVerbose     bool

	lock      sync.Mutex
	container *mpb.Progress
	open      int
}

// Debugf is a wrapper function that executes logrus.Tracef if debug is enabled.
func (log *CLI) Debugf(format string, x ...interface{}) {
	if log.IsDebug {
		logrus.Tracef(format, x...)
	}
}

// Errorf is a wrapper function that executes logrus.Errorf
func (log *CLI) Errorf(format string, x ...interface{}) {
	logrus.Errorf(format, x...)
}

// Infof is a wrapper function that executes logrus.Debugf only if verbose is enabled.
func (log *CLI) Infof(format string, x ...interface{}) {
	if log.IsVerbose {
		logrus.Debugf(format, x...)
	}
}

// Printf is a wrapper function that executes logrus.Printf
func (log *CLI) Printf(format string, x ...interface{}) {
	logrus.Printf(format, x...)
}

// Warnf is a wrapper function that executes logrus.Warnf
func (log *CLI) Warnf(format string, x ...interface{}) {
	logrus.Warnf(format, x...)
}

// IsInfoEnabled returns whether InfoLevel logging is enabled
func (log *CLI) IsInfoEnabled() bool {
	return logrus.IsLevelEnabled(logrus.InfoLevel)
}

// IsDebugEnabled returns whether DebugLevel logging is enabled
func (log *CLI) IsDebugEnabled() bool {
	return logrus.IsLevelEnabled(logrus.DebugLevel)
}

// NewProgress creates a progress bar and returns a handle to it.
func (log *CLI) NewProgress(label string, units string, total int64) Progress {

	if log.DisableTTY {
		return &nilProgress{}
	}

	log.lock.Lock()
	defer log.lock.Unlock()

	if log.container == nil {
		log.container = mpb.New(mpb.WithWidth(80))
	}
	log.open++

	var decorators []decor.Decorator
	switch units {
	case "KiB":
		decorators = append(decorators, decor.Counters(decor.UnitKiB, "% .1f / % .1f"))
	default:
		decorators = append(decorators, decor.Percentage())
	}

	bar := log.container.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(label, decor.WC{W: len(label) + 1, C: decor.DidentRight}),
		),
		mpb.AppendDecorators(decorators...),
	)

	return &pb{log: log, bar: bar, total: total}
}

type nilProgress struct{}

func (np *nilProgress) Increment(n int64) {}

func (np *nilProgress) Finish(success bool) {}

type pb struct {
	log    *CLI
	bar    *mpb.Bar
	total  int64
	count  int64
	closed bool
}

// Increment increases the progress on the bar
func (pb *pb) Increment(n int64) {
	pb.count += n
	pb.bar.IncrInt64(n)
}

// Finish closes the progress bar object
func (pb *pb) Finish(success bool) {

	if pb.closed {
		return
	}
	pb.closed = true

	if pb.count != pb.total || !success {
		pb.bar.Abort(false)
	}

	pb.log.lock.Lock()
	defer pb.log.lock.Unlock()
	pb.log.open--
	if pb.log.open == 0 {
		pb.log.container.Wait()
		pb.log.container = nil
	}
}

// Format formats our logger for terminal use
func (log *CLI) Format(entry *logrus.Entry) ([]byte, error) {

	faint := color.New(color.Faint).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	blue := color.New(color.FgBlue).SprintFunc()

	x := entry.Message
	if !log.DisableColors {
		switch entry.Level {
		case logrus.TraceLevel:
			x = faint(x)
		case logrus.DebugLevel:
			x = blue(x)
		case logrus.WarnLevel:
			x = yellow(x)
		case logrus.ErrorLevel:
			x = red(x)
		default:
		}
	}

	return []byte(fmt.Sprintf("%s\n", x)), nil
}
