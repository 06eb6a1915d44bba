/*
Package runner runs shell command strings as child processes and reports their output line by line.

Each Run spawns exactly one shell, "bash -c <command>" by default, with no stdin. Stdout and stderr are copied
concurrently, so lines keep their order within a stream but there is no ordering between the two streams.
The command string is passed to the shell verbatim: it is not escaped, validated, or sandboxed, and callers
must be trusted.
*/
package runner
