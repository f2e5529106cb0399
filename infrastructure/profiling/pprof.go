// Package profiling exposes net/http/pprof on a loopback-only port.
package profiling

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/server"
)

// DefaultPort is the pprof port when none is configured.
const DefaultPort = "6060"

const profileWriteTimeout = 2 * time.Minute

// Config controls the pprof server.
type Config struct {
	Enabled bool   `yaml:"enabled" env:"ENABLE_PROFILING"`
	Port    string `yaml:"port"    env:"PPROF_PORT"`
}

// Mux returns a mux carrying the standard /debug/pprof endpoints.
func Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// Start serves pprof on localhost until ctx is done. It does nothing when
// profiling is disabled.
func Start(ctx context.Context, cfg Config, log logger.Logger) {
	if !cfg.Enabled {
		return
	}
	port := cfg.Port
	if port == "" {
		port = DefaultPort
	}

	go func() {
		// CPU profiles stream for 30s by default.
		srvCfg := server.Config{Address: "localhost:" + port, WriteTimeout: profileWriteTimeout}
		if err := server.Run(ctx, srvCfg, Mux(), log); err != nil {
			log.Error("pprof server failed", logger.Error(err))
		}
	}()
}
