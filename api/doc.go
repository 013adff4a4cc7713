// Package api exposes the ledger pipeline over JSON and HTTP.
//
// # Endpoints
//
//	POST /command                 run a text command, as in the interactive shell
//	GET  /status                  pipeline summary
//	GET  /nodes                   all nodes
//	POST /nodes                   register a node, returns its access token
//	GET  /nodes/{id}              one node
//	GET  /nodes/{id}/history      transactions of a node recorded on the chain
//	POST /nodes/{id}/allocate     propose an allocation
//	POST /nodes/{id}/release      propose a release
//	GET  /chain                   every block
//	GET  /chain/{index}           one block
//	POST /chain/validate          run the integrity check
//	GET  /audit                   audit trail
//
// With token authentication enabled, allocate and release require the node's
// token in the X-Node-Token header.
//
// The server can run over TLS with a certificate passed via WithCertificate;
// GenerateSelfSignedCert produces one for local use.
package api
