// Package server implements the realtime gateway for huddle.
//
// The gateway accepts websocket connections, tracks each connection's room
// subscriptions in a RoomRegistry, persists sent messages through a
// store.MessageStore and fans them out to every subscribed session.
package server
