// Package keys manages archive writer keys.
//
// An archive's content key is the Ed25519 public key of its writer. The
// KeyStore keeps writer seeds on the local filesystem, one directory per key
// name, so that writable archives (the root archive in particular) keep the
// same content key across restarts.
package keys
