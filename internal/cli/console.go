// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
)

var errNestedConsole = errors.New("already in console")

func newConsoleCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive prompt for call commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.inConsole {
				return errNestedConsole
			}
			a.inConsole = true
			defer func() { a.inConsole = false }()
			return runConsole(a, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// runConsole executes one command per input line until EOF or "exit".
// A failing command is reported and the prompt continues.
func runConsole(a *app, in io.Reader, out, errOut io.Writer) error {
	fmt.Fprintln(out, "entering interactive mode, type 'exit' to quit")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "call> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		args, err := shellwords.Parse(line)
		if err != nil {
			fmt.Fprintln(errOut, "Error:", err)
			continue
		}

		// a fresh tree per line, cobra keeps flag state between runs
		root := newRootCommand(a)
		root.SetArgs(args)
		root.SetIn(in)
		root.SetOut(out)
		root.SetErr(errOut)
		if err := root.Execute(); err != nil {
			fmt.Fprintln(errOut, "Error:", err)
		}
	}
}
