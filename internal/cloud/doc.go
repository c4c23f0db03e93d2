// Package cloud is the client for the Atomberg developer REST API.
//
// Each account gets its own Client with a private TokenCache. The cache
// exchanges the long-lived refresh token for a short-lived access token,
// reads its expiry from the JWT exp claim and deduplicates concurrent
// refreshes.
//
// Every request carries the X-API-Key header and the access token as a
// bearer token. Failures are classified into four errors (ErrAuth,
// ErrTransport, ErrProtocol, ErrCommandRejected) which drive the
// coordinator's retry and degradation policy. A 401/403 response drops
// the cached token.
//
// Usage:
//
//	client := cloud.New(cloud.Config{
//	    BaseURL:      cfg.Cloud.BaseURL,
//	    APIKey:       account.APIKey,
//	    RefreshToken: account.RefreshToken,
//	    Timeout:      cfg.GetRequestTimeout(),
//	})
//	devices, err := client.SyncDevices(ctx)
package cloud
