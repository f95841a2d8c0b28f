/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/voclinx/scannarr/internal/db"
	"github.com/voclinx/scannarr/internal/gateway"
	"github.com/voclinx/scannarr/internal/lifecycle"
	"github.com/voclinx/scannarr/internal/models"
	"github.com/voclinx/scannarr/internal/store"
)

var watcherCmd = &cobra.Command{
	Use:   "watcher",
	Short: "Manage watcher agents",
}

var watcherTokenCmd = &cobra.Command{
	Use:   "token <name>",
	Short: "Issue a connection token for a watcher",
	Long:  "Creates the watcher if it does not exist and prints a fresh token. Only the hash of the secret is stored; the printed token is the sole copy.",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatcherToken,
}

var watcherApproveCmd = &cobra.Command{
	Use:   "approve <name>",
	Short: "Approve a pending watcher",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatcherApprove,
}

var watcherRevokeCmd = &cobra.Command{
	Use:   "revoke <name>",
	Short: "Revoke a watcher and sever its connection",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatcherRevoke,
}

var watcherListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered watchers",
	RunE:  runWatcherList,
}

func init() {
	watcherCmd.AddCommand(watcherTokenCmd, watcherApproveCmd, watcherRevokeCmd, watcherListCmd)
	rootCmd.AddCommand(watcherCmd)
}

// openLifecycle builds a store-backed lifecycle manager for operator
// commands. No gateway is running, so the registry is empty.
func openLifecycle() (*lifecycle.Manager, *store.Store, *gorm.DB, error) {
	if err := loadConfig(); err != nil {
		return nil, nil, nil, err
	}
	database, err := initDatabase()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}
	st := store.New(database, nil, logger)
	mgr := lifecycle.NewManager(st, gateway.NewRegistry(), nil, nil, nil, nil, store.ErrNotFound, logger)
	return mgr, st, database, nil
}

func watcherByName(ctx context.Context, st *store.Store, name string) (*models.Watcher, error) {
	w, err := st.WatcherByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no watcher named %q", name)
	}
	return w, err
}

func runWatcherToken(cmd *cobra.Command, args []string) error {
	mgr, st, database, err := openLifecycle()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()
	ctx := cmd.Context()

	name := args[0]
	w, err := st.WatcherByName(ctx, name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		w = &models.Watcher{Name: name, Status: models.WatcherPending}
		if err := st.CreateWatcher(ctx, w); err != nil {
			return fmt.Errorf("create watcher %q: %w", name, err)
		}
		fmt.Printf("watcher %q created (pending approval)\n", name)
	case err != nil:
		return err
	}

	token, err := mgr.MintToken(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	fmt.Printf("token for %q (shown once, store it now):\n%s\n", name, token)
	return nil
}

func runWatcherApprove(cmd *cobra.Command, args []string) error {
	mgr, st, database, err := openLifecycle()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()
	ctx := cmd.Context()

	w, err := watcherByName(ctx, st, args[0])
	if err != nil {
		return err
	}
	if err := mgr.Approve(ctx, w.ID); err != nil {
		return err
	}
	fmt.Printf("watcher %q approved\n", w.Name)
	return nil
}

func runWatcherRevoke(cmd *cobra.Command, args []string) error {
	mgr, st, database, err := openLifecycle()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()
	ctx := cmd.Context()

	w, err := watcherByName(ctx, st, args[0])
	if err != nil {
		return err
	}
	if err := mgr.Revoke(ctx, w.ID); err != nil {
		return err
	}
	fmt.Printf("watcher %q revoked\n", w.Name)
	return nil
}

func runWatcherList(cmd *cobra.Command, args []string) error {
	_, st, database, err := openLifecycle()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()

	watchers, err := st.ListWatchers(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tHOSTNAME\tVERSION\tLAST SEEN")
	for _, w := range watchers {
		lastSeen := "never"
		if w.LastSeenAt != nil {
			lastSeen = w.LastSeenAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", w.Name, w.Status, w.Hostname, w.Version, lastSeen)
	}
	return tw.Flush()
}
