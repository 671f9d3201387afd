// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

type LoginRequest struct {
	Username string `json:"username"`
}

type StartCallRequest struct {
	Callee string `json:"callee"`
}

type AddParticipantRequest struct {
	Identity string `json:"identity"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
