// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import "github.com/nextcloud/go_call_client/internal/cli"

func main() {
	cli.Execute()
}
