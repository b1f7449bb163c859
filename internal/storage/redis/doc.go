// Package redis builds the shared go-redis client used by the job queue and
// the chat summary memory.
package redis
