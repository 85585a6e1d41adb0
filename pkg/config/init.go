package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# nfsd Configuration File
#
# Every value can be overridden with an NFSD_ environment variable, for
# example NFSD_LOGGING_LEVEL=DEBUG or NFSD_CACHE_UPCALL_TIMEOUT=5s.

`

// sectionComments are written above each top-level key of a generated file.
var sectionComments = map[string]string{
	"logging":    "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr or a file path)",
	"server":     "Protocol limits: READ/WRITE payload size, largest file handle (32-64 bytes), shutdown grace period, default client domain, per-domain rate limit",
	"cache":      "Key and export caches: bucket count, how long a lookup waits for the export agent,\nrequest queue depth, expiry sweep interval and lifetime of agent answers",
	"exports":    "Export table. Inline entries win over entries loaded from sources.\nSource types: file (options: path), s3 (options: bucket, key, region, endpoint,\naccess_key_id, secret_access_key). Entry options: ro, rw, root_squash,\nno_root_squash, all_squash, async, sync, secure, insecure.\npersist journals accepted cache lines in BadgerDB for replay at start.",
	"clients":    "Client names registered as auth domains at start",
	"filesystem": "Filesystem served. Only the in-memory filesystem is available; seed lists\ndirectories created at start.",
	"admin":      "HTTP control channel: cache channels, flush, root file handles",
	"metrics":    "Prometheus /metrics endpoint",
}

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments encodes cfg as YAML with a header and a comment
// above each section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	// Mapping content alternates key and value nodes.
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.String(), nil
}
