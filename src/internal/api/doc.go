// Package api provides the REST control API of the hosts-redirect service.
//
// The API runs inside the service process and talks to the lifecycle
// controller directly. It provides:
//   - Service status with DNS, router and process statistics
//   - Service control (start/stop/restart)
//   - Rule reload, listing and lookup
//   - Remote list download
//   - Active session listing
//   - Health checks and the DNS check stream
//
// # Response Format
//
// All successful responses wrap data in a "data" field:
//
//	{
//	  "data": { /* response payload */ }
//	}
//
// Error responses use the following format:
//
//	{
//	  "error": {
//	    "code": "ERROR_CODE",
//	    "message": "Human-readable error message",
//	    "details": { /* optional context */ }
//	  }
//	}
//
// Requests are only accepted from private and loopback addresses.
package api
