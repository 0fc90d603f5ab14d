//go:build !unix

package main

import "github.com/rs/zerolog"

// restartProcess cannot replace the process image here; the caller exits and
// leaves the restart to the supervisor.
func restartProcess(log zerolog.Logger) {
	log.Warn().Msg("restart: not supported on this platform, exiting")
}
