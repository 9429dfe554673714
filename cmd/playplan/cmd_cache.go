/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/playplan/internal/cache"
)

var cacheFlushScope string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the Redis cache",
}

var cacheFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Delete cached playlists, plans or both",
	Long: `Delete cached entries from Redis.

Use this after changing the upstream data API key or when a playlist was
edited upstream and should be fetched again before its TTL expires.

Examples:
  playplan cache flush --scope playlists
  playplan cache flush`,
	RunE: runCacheFlush,
}

func init() {
	cacheFlushCmd.Flags().StringVar(&cacheFlushScope, "scope", "all", "What to flush: all, playlists or plans")
	cacheCmd.AddCommand(cacheFlushCmd)
	rootCmd.AddCommand(cacheCmd)
}

func flushPrefix(scope string) (string, error) {
	switch scope {
	case "all":
		return cache.KeyPrefix, nil
	case "playlists":
		return cache.KeyPlaylist, nil
	case "plans":
		return cache.KeyPlan, nil
	}
	return "", fmt.Errorf("unknown scope %q (want all, playlists or plans)", scope)
}

func runCacheFlush(cmd *cobra.Command, args []string) error {
	prefix, err := flushPrefix(cacheFlushScope)
	if err != nil {
		return err
	}
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.RedisAddr == "" {
		return errors.New("PLAYPLAN_REDIS_ADDR is not set")
	}

	c, err := cache.New(cache.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	}, nil, logger)
	if err != nil {
		return fmt.Errorf("connect cache: %w", err)
	}
	defer c.Close()
	if !c.IsAvailable() {
		return fmt.Errorf("redis at %s is unreachable", cfg.RedisAddr)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	removed, err := c.Flush(ctx, prefix)
	if err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached %s entries\n", removed, cacheFlushScope)
	return nil
}
