// Package ports defines the interfaces between the sync engine and its
// external collaborators: the remote data source, the connectivity
// signal, and the HTTP client. Adapters live under internal/adapters.
package ports
