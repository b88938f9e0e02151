package logger

import (
	"io"
	"os"
)

// FileConfig holds the configuration for rotating file output
type FileConfig struct {
	Filename   string
	MaxSize    int // megabytes
	MaxAge     int // days
	MaxBackups int
	Compress   bool
}

// Config holds the configuration for the logger
type Config struct {
	Level        LogLevel
	Format       OutputFormat
	Outputs      []io.Writer
	Subsystem    string
	FileConfig   *FileConfig
	EnableCaller bool
}

// DefaultConfig returns a default configuration writing to stdout
func DefaultConfig() *Config {
	return &Config{
		Level:   InfoLevel,
		Format:  DefaultFormat,
		Outputs: []io.Writer{os.Stdout},
	}
}

// TestConfig returns a configuration suitable for tests: quiet unless
// something goes wrong.
func TestConfig() *Config {
	return &Config{
		Level:   ErrorLevel,
		Format:  DefaultFormat,
		Outputs: []io.Writer{os.Stderr},
	}
}
