//go:build unix

package main

import (
	"os"
	"syscall"

	"github.com/rs/zerolog"
)

// restartProcess replaces the running image with a fresh copy of itself. It
// only returns if the exec failed.
func restartProcess(log zerolog.Logger) {
	self, err := os.Executable()
	if err != nil {
		log.Error().Err(err).Msg("restart: locate executable")
		return
	}
	err = syscall.Exec(self, os.Args, os.Environ())
	log.Error().Err(err).Msg("restart: exec")
}
