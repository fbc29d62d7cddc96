// Package notifier announces events committed by an ingestion run.
//
// LogNotifier writes one structured log line per sighting and is used when no broker is
// configured. AMQPNotifier publishes each sighting as a persistent JSON message to a
// durable RabbitMQ queue so downstream consumers can react to new or changed listings.
package notifier
