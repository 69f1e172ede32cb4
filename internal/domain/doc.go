// Package domain defines the core types of the sync engine: the venue
// record, the record filter, the durable sync queue item, and the error
// taxonomy shared by the store, the queue, and the coordinator.
package domain
