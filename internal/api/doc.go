// Package api serves the HTTP query/command API and the websocket event
// stream for the fan fleet.
//
// Routes live under /api/v1:
//
//	GET  /health                 server and component health
//	GET  /accounts               per-account coordinator status
//	GET  /devices                every fan (filters: account_id, online)
//	GET  /devices/{id}           one fan
//	POST /devices/{id}/command   {"speed":3}, {"led":true}, {"timer":2}, ...
//	GET  /devices/{id}/history   recorded state changes (limit, since, source)
//	GET  /ws                     websocket stream of state changes
//
// Errors are JSON objects with status, code and message. Cloud failures map
// to 401 (credentials), 502 (transport or protocol) and 422 (rejected).
package api
