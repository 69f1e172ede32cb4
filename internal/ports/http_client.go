package ports

import "net/http"

// HTTPClient is the interface for making HTTP requests.
// *http.Client satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
