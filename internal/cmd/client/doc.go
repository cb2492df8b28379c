// Package client provides the `flobus` command-line client.
//
// Every command resolves its configuration the same way: defaults, then
// the file named by --config, then FLOBUS_* environment variables, then
// explicit flags. It opens a runtime, runs one operation and closes the
// runtime with ordered teardown.
//
// Usage
//
//	flobus health --redis 127.0.0.1:6379
//
//	flobus channel publish --channel doc:1 --channel doc:2 \
//	    --data '{"op":"insert","seq":3}'
//
//	# Print messages as JSON lines; stop after 5 or on Ctrl-C
//	flobus channel subscribe --channel doc:1 --limit 5
//	flobus channel subscribe --channel doc:1 --filter 'data.op == "insert"'
//
//	flobus idseq allocate --id doc:1
//	flobus idseq release --id doc:1 --seq 0
//
// Notes
//
//   - --prefix applies to both channel names and idseq keys, so clients
//     sharing a Redis instance stay isolated.
//   - subscribe filters run locally with CEL; variables are `channel`
//     and `data`.
package client
