// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package callapi

type LoginRequest struct {
	Username    string `json:"username"`
	DeviceToken string `json:"fcm_token"`
}

type LoginResponse struct {
	Token          string `json:"token"`
	ConversationID string `json:"conversation_sid"`
}

type OnlineUser struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

type StartCallRequest struct {
	Identity string   `json:"identity"`
	RoomName string   `json:"room_name"`
	Callees  []string `json:"callees"`
	CallType string   `json:"call_type"`
}

type JoinCallRequest struct {
	Identity string `json:"identity"`
	RoomName string `json:"room_name"`
	CallType string `json:"call_type"`
}

// Grant is the room credential minted by start-call and join-call.
type Grant struct {
	Token    string `json:"token"`
	RoomName string `json:"room_name"`
}

type AddParticipantRequest struct {
	RoomName       string `json:"room_name"`
	CallerIdentity string `json:"caller_identity"`
	NewParticipant string `json:"new_participant"`
}

type DeclineCallRequest struct {
	RoomName string `json:"room_name"`
	Username string `json:"username"`
}

type LogoutRequest struct {
	Username string `json:"username"`
}
