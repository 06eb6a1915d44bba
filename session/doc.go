/*
Package session provides a server and client for a remote shell bridge which streams the output of shell commands
(server->client) over a WebSocket connection, one text frame per output line.

Commands are scoped to the WebSocket connection: if the connection dies for any reason, the running command is killed.
A connection runs at most one command at a time and runs its commands in the order they were received.

The protocol proceeds as follows:

 1. The client opens a WebSocket connection with the server.
 2. The client sends a text message containing a JSON object with a "command" string, e.g. {"command": "ls -l"}.
 3. The server runs the command through a shell and sends each stdout line as a text message, verbatim,
    and each stderr line as a text message prefixed with "ERR: ". Lines keep their order within a stream;
    stdout and stderr lines may interleave arbitrarily.
 4. When both streams are drained, the server sends the text message "---END---".
 5. The client may send the next command, or close the connection.

A message that is not a text message, or is not a JSON object with a string "command" key, ends the connection
without a "---END---" for that message. If the shell cannot be started, or the command exceeds the configured
maximum runtime, the server sends an "ERR: " message describing the failure followed by "---END---" and keeps the
connection open. Exit status is not sent.

A stdout line that reads "---END---" or starts with "ERR: " cannot be told apart from the sentinel or a stderr line.

There is no authentication and commands are not sanitized: anyone who can reach the server can run arbitrary
commands as the server's user. Only expose it on trusted networks.
*/
package session
