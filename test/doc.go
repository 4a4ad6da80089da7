// Package test provides infrastructure and utilities for integration testing of the VPN API.
//
// The test package runs the real fiber application, orchestrator and job store
// behind an httptest server and talks to it through the real API client. The
// provisioning backend is the simulate backend, so no cloud account is needed.
//
// The package provides:
//
//   - Suite: a complete test setup including a job store (memory, sqlite or
//     miniredis backed), the API server, and an API client
//
//   - Options: functions that change the store, the authorizer, the
//     simulated step delay and the session lifetime
//
// Example Usage:
//
//	func TestExample(t *testing.T) {
//	    s := test.NewSuite(t)
//	    defer s.Cleanup()
//
//	    resp, err := s.APIClient.StartJob(s.Context(), types.StartJobRequest{})
//	    // Use s.APIClient.WaitForJob to follow the job
//	}
package test
