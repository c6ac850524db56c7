// Package redisstore implements sessions.Store on Redis so several gateway
// processes can share one session table.
//
// Each session is a JSON document under <prefix>s:<id>; the id set at
// <prefix>index backs List. Update runs as a WATCH/MULTI transaction and
// retries on contention. The verifier is not serialised: a Hydrator rebuilds
// it from the account configuration whenever a session is read back.
package redisstore
