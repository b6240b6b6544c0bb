// Package loader reads script, markup and bytecode bundles from disk or from
// remote hosts and classifies them for the bridge CLI and HTTP host.
//
// Local patterns may name a file, a directory or a doublestar glob. Remote
// fetches retry transient failures and are guarded by a circuit breaker per
// host.
package loader
