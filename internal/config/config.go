package config

import (
	"fmt"
	"strings"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	AllowedOrigins []string
}

// NewConfig validates and assembles the server configuration. An empty
// databaseDSN selects the in-memory store. allowedOrigins is a
// comma-separated list of origins permitted to make cross-origin API
// requests; empty means same-origin only.
func NewConfig(serverAddr, databaseDSN, allowedOrigins string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	var origins []string
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		origins = append(origins, o)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		AllowedOrigins: origins,
	}, nil
}
