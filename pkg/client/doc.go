/*
Package client is the loopback HTTP client the CLI uses to talk to a
running suite.

FromBaseDir reads the same config tree the supervisor writes, so the CLI
needs no flags beyond the base directory: the port comes from the suite
config and the bearer token is unwrapped with the local wrapper key.
ErrNotRunning distinguishes "nothing listening" from a suite that answered
badly, which the CLI maps to different exit paths.
*/
package client
