// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"os"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/tailscale/hujson"
)

// config is the JWCC configuration file's schema, merged under any
// command-line flags.
type config struct {
	Debug        bool   `json:"debug"`
	MaxCallDepth int    `json:"maxCallDepth"`
	Path         string `json:"path"`
	CPath        string `json:"cpath"`
}

func defaultConfig() *config {
	return &config{
		Path:  "./?.lua;./?/init.lua",
		CPath: "",
	}
}

// mergeFile layers the configuration file at path over g. An empty
// path or a missing file is not an error.
func (g *config) mergeFile(path string) error {
	if path == "" {
		return nil
	}
	huJSONData, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	jsonData, err := hujson.Standardize(huJSONData)
	if err != nil {
		return fmt.Errorf("read %s: %v", path, err)
	}
	if err := jsonv2.Unmarshal(jsonData, g, jsonv2.RejectUnknownMembers(false)); err != nil {
		return fmt.Errorf("read %s: %v", path, err)
	}
	return nil
}

// mergeEnvironment applies the LUA_PATH/LUA_CPATH environment
// variables, which take precedence over the configuration file.
func (g *config) mergeEnvironment() {
	if p := os.Getenv("LUA_PATH"); p != "" {
		g.Path = p
	}
	if p := os.Getenv("LUA_CPATH"); p != "" {
		g.CPath = p
	}
}
