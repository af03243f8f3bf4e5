// Package qq talks to the Tencent QQ bot open platform: it parses inbound
// webhook payloads into message events and posts replies back through the
// REST API.
package qq
