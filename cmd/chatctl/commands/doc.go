// Package commands defines the chatctl CLI.
//
// Commands
//
//   - keygen         Create a local key pair sealed under a passphrase
//   - send           Send a message, encrypted locally unless --server-encrypt
//   - read           Fetch a conversation and decrypt it
//   - conversations  List conversations, newest first
//   - delete         Burn a message now
//   - token          Mint a development bearer token from JWT_SECRET
//   - sweep          Delete every expired message directly in the database
//
// The root command builds one API client before any subcommand runs. Flags
// fall back to CHAT_SERVER, CHAT_TOKEN and CHAT_PASSPHRASE.
package commands
