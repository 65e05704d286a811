package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ssmToEnvMapping maps each bootstrap SSM category/key to the environment
// variable name the config loader reads it from. Every inventory step must
// have an entry here, and no two steps may map to the same variable.
var ssmToEnvMapping = map[string]string{
	"database/url":          "DATABASE_URL",
	"reports/base_url":      "REPORTS_BASE_URL",
	"reports/token_url":     "REPORTS_TOKEN_URL",
	"reports/client_id":     "REPORTS_CLIENT_ID",
	"reports/client_secret": "REPORTS_CLIENT_SECRET",
	"reports/refresh_token": "REPORTS_REFRESH_TOKEN",
	"queues/refresh_jobs":   "SQS_REFRESH_JOBS",
	"queues/dataset_events": "SQS_DATASET_EVENTS",
}

// localDevDefaults holds the environment variables a local development setup
// needs that are NOT sourced from SSM: the runtime mode, logging, and the
// LocalStack endpoint. These are appended to the exported .env file when
// IncludeLocalDefaults is set, and must never overlap with ssmToEnvMapping.
var localDevDefaults = map[string]string{
	"APP_ENV":          "local",
	"LOG_LEVEL":        "debug",
	"AWS_REGION":       "us-east-1",
	"AWS_ENDPOINT_URL": "http://localhost:4566",
	"ENABLE_METRICS":   "false",
}

// ExportEnvConfig carries the dependencies and options for ExportEnvFile.
type ExportEnvConfig struct {
	// OutputPath is the filesystem path of the .env file to write.
	OutputPath string

	// Environment is the environment whose SSM parameters are exported.
	Environment string

	// SSM reads the parameter values back from Parameter Store.
	SSM *SSMManager

	// Stderr receives progress and summary output.
	Stderr io.Writer

	// IncludeLocalDefaults appends the localDevDefaults section so the
	// exported file is a complete local development configuration.
	IncludeLocalDefaults bool
}

// ExportEnvFile reads the bootstrap inventory back from SSM and writes a
// .env file for local development. SecureString parameters are decrypted;
// the resulting file is written with 0600 permissions since it contains
// plaintext secrets.
//
// Parameters missing from SSM are skipped with a note on stderr, so a
// partially bootstrapped environment still yields a usable file. If no
// parameter can be read at all, the export fails.
func ExportEnvFile(ctx context.Context, cfg ExportEnvConfig) error {
	// Walk the inventory in declaration order so the file layout is stable
	// across runs. The validator is never invoked on the read-back path.
	inventory := BuildInventory(NewValidatorWithDeps(nil, nil))

	var b strings.Builder
	b.WriteString("# Auto-generated by bootstrap --export-env\n")
	fmt.Fprintf(&b, "# Environment: %s\n", cfg.Environment)
	fmt.Fprintf(&b, "# Generated:   %s\n", time.Now().UTC().Format(time.RFC3339))
	b.WriteString("#\n")
	b.WriteString("# SECURITY WARNING: this file contains decrypted secrets.\n")
	b.WriteString("# Keep it out of version control and shared storage.\n")
	b.WriteString("\n")

	written := 0
	for _, step := range inventory {
		envVar, ok := ssmToEnvMapping[step.SSMCategoryKey]
		if !ok {
			// Unmapped steps cannot be exported; the mapping tests keep
			// this branch unreachable.
			continue
		}

		path := cfg.SSM.SSMPath(step.SSMCategoryKey)
		value, err := cfg.SSM.GetParameterValue(ctx, path, step.ParamType == ParamSecureString)
		if err != nil {
			fmt.Fprintf(cfg.Stderr, "  Skipping %s (%s): parameter not readable\n", envVar, path)
			continue
		}

		b.WriteString(formatEnvLine(envVar, value))
		b.WriteString("\n")
		written++
	}

	if written == 0 {
		return fmt.Errorf("no parameters could be read from SSM for environment %q", cfg.Environment)
	}

	if cfg.IncludeLocalDefaults {
		b.WriteString("\n# Local Development Defaults (not sourced from SSM)\n")

		keys := make([]string, 0, len(localDevDefaults))
		for key := range localDevDefaults {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			b.WriteString(formatEnvLine(key, localDevDefaults[key]))
			b.WriteString("\n")
		}
	}

	// Create parent directories when a custom output path is nested.
	if dir := filepath.Dir(cfg.OutputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %q: %w", dir, err)
		}
	}

	// 0600: the file holds plaintext secrets, owner access only.
	if err := os.WriteFile(cfg.OutputPath, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing env file %q: %w", cfg.OutputPath, err)
	}

	fmt.Fprintf(cfg.Stderr, "\n  Environment file exported: %s\n", cfg.OutputPath)
	fmt.Fprintf(cfg.Stderr, "  Parameters written: %d\n", written)
	fmt.Fprintf(cfg.Stderr, "  File permissions: 0600 (owner read/write only)\n")
	fmt.Fprintf(cfg.Stderr, "\n")

	return nil
}

// formatEnvLine renders a single KEY=value line in dotenv syntax. Values
// containing whitespace, quotes, comment markers, shell expansion characters,
// or braces are double-quoted with backslash, quote, and newline escapes so
// godotenv reads them back verbatim.
func formatEnvLine(key, value string) string {
	if value == "" {
		return key + `=""`
	}

	if !strings.ContainsAny(value, " \t\"'#$`{}\n\\") {
		return key + "=" + value
	}

	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	return key + `="` + escaped + `"`
}
