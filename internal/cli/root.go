// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"github.com/nextcloud/go_call_client/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"api-addr":         config.KeyAPIAddr,
	"control-secret":   config.KeyControlSecret,
	"log-level":        config.KeyLogLevel,
	"listen-addr":      config.KeyListenAddr,
	"username":         config.KeyUsername,
	"call-control-url": config.KeyCallControlURL,
	"signaling-url":    config.KeySignalingURL,
	"media-url":        config.KeyMediaURL,
	"call-type":        config.KeyCallType,
	"ring-timeout":     config.KeyRingTimeout,
	"capture":          config.KeyCapture,
	"skip-cert-verify": config.KeySkipCertVerify,
}

// app carries state shared by every command of one invocation. Commands
// created for the console reuse it, so configuration is read once.
type app struct {
	cfgFile   string
	v         *viper.Viper
	inConsole bool
}

func (a *app) init(cmd *cobra.Command) error {
	if a.v != nil {
		return nil
	}
	v, err := config.New(a.cfgFile)
	if err != nil {
		return err
	}
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return fmt.Errorf("binding flags: %w", bindErr)
	}
	a.v = v
	return nil
}

func (a *app) client() *apiClient {
	return newAPIClient(a.v.GetString(config.KeyAPIAddr), a.v.GetString(config.KeyControlSecret))
}

// NewRootCommand builds the callclient command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "callclient",
		Short:         "Peer-to-peer call signaling client",
		Long:          "callclient runs the call daemon (serve) and drives a running daemon through its control API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	pf.String("api-addr", "", "base URL of the daemon control API")
	pf.String("control-secret", "", "shared secret for the control API")
	pf.String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(a),
		newLoginCommand(a),
		newLogoutCommand(a),
		newStatusCommand(a),
		newPresenceCommand(a),
		newCallCommand(a),
		newMuteCommand(a),
		newCameraCommand(a),
		newEventsCommand(a),
		newConsoleCommand(a),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
