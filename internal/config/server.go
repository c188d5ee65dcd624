// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// ServerConfig holds HTTP server settings for one listener.
type ServerConfig struct {
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration
}

// shutdown below this cannot drain a flushing stream
const minShutdownTimeout = 3 * time.Second

// APIServer returns the settings for the API listener.
func (c AppConfig) APIServer() ServerConfig {
	return c.serverFor(c.API.ListenAddr)
}

// MetricsServer returns the settings for the metrics listener.
func (c AppConfig) MetricsServer() ServerConfig {
	sc := c.serverFor(c.Metrics.ListenAddr)
	sc.ReadTimeout = 10 * time.Second
	sc.WriteTimeout = 30 * time.Second
	return sc
}

func (c AppConfig) serverFor(addr string) ServerConfig {
	s := c.Server
	shutdown := s.ShutdownTimeout
	if shutdown < minShutdownTimeout {
		shutdown = minShutdownTimeout
	}
	return ServerConfig{
		ListenAddr:        addr,
		ReadHeaderTimeout: s.ReadHeaderTimeout,
		ReadTimeout:       s.ReadTimeout,
		WriteTimeout:      s.WriteTimeout,
		IdleTimeout:       s.IdleTimeout,
		MaxHeaderBytes:    s.MaxHeaderBytes,
		ShutdownTimeout:   shutdown,
	}
}
