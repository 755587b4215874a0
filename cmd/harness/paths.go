package main

import (
	"fmt"
	"os"

	"github.com/relaypane/harness/internal/gwconfig"
	"github.com/relaypane/harness/internal/pathres"
)

func workspaceRoot() (string, error) {
	if v := os.Getenv("HARNESS_INVOKE_CWD"); v != "" {
		return v, nil
	}
	if v := os.Getenv("INIT_CWD"); v != "" {
		return v, nil
	}
	return os.Getwd()
}

func resolvePaths() (*pathres.Paths, error) {
	root, err := workspaceRoot()
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return pathres.Resolve(root, sessionFlag)
}

func loadConfig(p *pathres.Paths) (*gwconfig.Config, error) {
	return gwconfig.Load(p.ConfigFilePath())
}
