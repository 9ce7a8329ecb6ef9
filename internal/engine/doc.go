// Package engine is the scheduled-notification core shared by the reminder
// and price-watch features.
//
// It owns durable task records, one-shot vs fixed-interval recurrence, one
// independently cancelable execution unit per task, safe concurrent mutation
// of the task set while units are running, and resumption of pending tasks
// after a restart. Task-version checks at wake time and at the post-fire
// commit are the sole synchronization against fires racing cancels.
//
// The engine is a library: it knows nothing about chat transports or command
// parsing. Features register a Worker per task kind and the app supplies a
// Sink for delivery.
package engine
