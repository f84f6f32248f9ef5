package interfaces

import "context"

// -----------------------------------------------------------------------------
// INetworkManager defines the contract for HTTP requests with retry logic.
// -----------------------------------------------------------------------------

type INetworkManager interface {

	// Get performs a GET request to the specified URL with parameters.
	// Returns the response body as bytes or an error.
	Get(ctx context.Context, url string, params map[string]string, headers map[string]string) ([]byte, error)

	// SendJSON issues method with body encoded as JSON (nil sends no body)
	// and returns the response body. Not retried.
	SendJSON(ctx context.Context, method string, url string, body any, headers map[string]string) ([]byte, error)
}
