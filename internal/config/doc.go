// Package config handles configuration loading for the bibliotheca server.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${BIBLIOTHECA_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  session_duration: "168h"
//	  token_duration: "720h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:5054"
//
// Database:
//
//	database:
//	  path: "/var/lib/bibliotheca/books.db"
//	  backup_dir: ""   # defaults to <db-dir>/backups
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${BIBLIOTHECA_JWT_SECRET}"
//	  session_duration: "168h"
//	  token_duration: "720h"
//
// Default admin seeding (used only when the user table is empty at startup):
//
//	seed:
//	  admin_username: "${ADMIN_USERNAME}"
//	  admin_email: "${ADMIN_EMAIL}"
//	  admin_password: "${ADMIN_PASSWORD}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/bibliotheca/server.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
