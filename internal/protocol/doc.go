// Package protocol implements the line-oriented wire format spoken between
// clients, the load balancer and the storage backends.
//
// Every command and status is one '\n' terminated line:
//
//	PUT <filename>     begin a store, followed by a SIZE line and the payload
//	GET <filename>     request a file
//	SIZE <n>           declares that exactly n raw payload bytes follow
//	OK                 success
//	ERROR <message>    failure with a human readable reason
//	HEALTH             liveness probe
//	HEALTH_OK          liveness probe answer
//
// A GET answered with OK is followed by a SIZE line and the payload.
package protocol
