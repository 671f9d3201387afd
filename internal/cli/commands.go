// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"net/http"

	"github.com/nextcloud/go_call_client/internal/handlers"
	"github.com/spf13/cobra"
)

// request returns a RunE that sends one request to the daemon and prints
// the JSON answer. body may be nil.
func request(a *app, method, path string, body func(args []string) any) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var payload any
		if body != nil {
			payload = body(args)
		}
		data, err := a.client().do(cmd.Context(), method, path, payload)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), data)
	}
}

func newLoginCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login <username>",
		Short: "Log the daemon in as username",
		Args:  cobra.ExactArgs(1),
		RunE: request(a, http.MethodPost, "/api/v1/login", func(args []string) any {
			return handlers.LoginRequest{Username: args[0]}
		}),
	}
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE:  request(a, http.MethodPost, "/api/v1/logout", nil),
	}
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show login, signaling and call state",
		Args:  cobra.NoArgs,
		RunE:  request(a, http.MethodGet, "/api/v1/status", nil),
	}
}

func newPresenceCommand(a *app) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "presence",
		Short: "List online users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if refresh {
				return request(a, http.MethodPost, "/api/v1/presence/refresh", nil)(cmd, args)
			}
			return request(a, http.MethodGet, "/api/v1/presence", nil)(cmd, args)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch a fresh snapshot from call control first")
	return cmd
}

func newCallCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Place, answer and end calls",
		Args:  cobra.NoArgs,
		RunE:  request(a, http.MethodGet, "/api/v1/call", nil),
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "start <callee>",
			Short: "Call an online user",
			Args:  cobra.ExactArgs(1),
			RunE: request(a, http.MethodPost, "/api/v1/call/start", func(args []string) any {
				return handlers.StartCallRequest{Callee: args[0]}
			}),
		},
		&cobra.Command{
			Use:   "accept",
			Short: "Accept the pending invite",
			Args:  cobra.NoArgs,
			RunE:  request(a, http.MethodPost, "/api/v1/call/accept", nil),
		},
		&cobra.Command{
			Use:   "decline",
			Short: "Decline the pending invite",
			Args:  cobra.NoArgs,
			RunE:  request(a, http.MethodPost, "/api/v1/call/decline", nil),
		},
		&cobra.Command{
			Use:   "add <identity>",
			Short: "Invite another user into the connected call",
			Args:  cobra.ExactArgs(1),
			RunE: request(a, http.MethodPost, "/api/v1/call/add", func(args []string) any {
				return handlers.AddParticipantRequest{Identity: args[0]}
			}),
		},
		&cobra.Command{
			Use:   "end",
			Short: "Hang up or cancel the current call",
			Args:  cobra.NoArgs,
			RunE:  request(a, http.MethodPost, "/api/v1/call/end", nil),
		},
		&cobra.Command{
			Use:   "bindings",
			Short: "List remote participants and their tracks",
			Args:  cobra.NoArgs,
			RunE:  request(a, http.MethodGet, "/api/v1/call/bindings", nil),
		},
	)
	return cmd
}

func newMuteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mute",
		Short: "Toggle the local microphone",
		Args:  cobra.NoArgs,
		RunE:  request(a, http.MethodPost, "/api/v1/media/mute", nil),
	}
}

func newCameraCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "camera",
		Short: "Toggle the local camera",
		Args:  cobra.NoArgs,
		RunE:  request(a, http.MethodPost, "/api/v1/media/camera", nil),
	}
}

func newEventsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Follow call notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return a.client().stream(cmd.Context(), "/api/v1/events", func(event string, data []byte) error {
				_, err := fmt.Fprintf(out, "%s %s\n", event, data)
				return err
			})
		},
	}
}
