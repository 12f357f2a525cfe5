package main

import (
	"fmt"
	"os"

	"github.com/hearthd/hearth/pkg/logger"
)

const (
	// logLevelEnvVar is the environment variable name for log level
	logLevelEnvVar = "LOG_LEVEL"
	// logFileEnvVar is the environment variable name for log file path
	logFileEnvVar = "LOG_FILE"
	// logFormatEnvVar is the environment variable name for log format
	logFormatEnvVar = "LOG_FORMAT"

	defaultLogLevel  = "info"
	defaultLogFormat = "simple"
)

// initLogger initializes the process logger.
// Priority: CLI flags > env vars > defaults.
// Returns a cleanup function that flushes and closes the log file when
// one is in use.
func initLogger(cliLevel, cliFile, cliFormat string) (func(), error) {
	level := firstNonEmpty(cliLevel, os.Getenv(logLevelEnvVar), defaultLogLevel)
	file := firstNonEmpty(cliFile, os.Getenv(logFileEnvVar))
	format := firstNonEmpty(cliFormat, os.Getenv(logFormatEnvVar), defaultLogFormat)

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output := os.Stderr
	var cleanup func()
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		cleanup = closeFn
	}

	logger.Init(parsed, output, format)
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
