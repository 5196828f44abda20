// Package config defines configuration structures for the saucer CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (SAUCER_ prefix)
//   - YAML configuration file
//
// Later sources override earlier ones: defaults, then file, then
// environment, then flags (see [Config.Merge]).
//
// # Example
//
//	url: https://archive.org/download/item/item.mp4
//	workers: 8
//	chunk_size: 16KiB
//	cache_dir: /var/cache/saucer
//	retry:
//	  attempts: 2
//	  backoff: 250ms
//	http:
//	  timeout: 30s
//	  rps: 50
package config
