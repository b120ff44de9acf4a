// Command pyxis is the operator CLI for the field registry. It submits
// ingestion batches, runs the batch worker, and reads canonical field
// identities back out of the registry.
package main
