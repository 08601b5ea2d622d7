// Package events carries flow lifecycle notifications to observers.
//
// The engine emits four kinds of events per run. A Bus delivers them
// synchronously to every subscribed Sink in exactly the order they were
// produced; a Queue decouples a slow subscriber from that delivery.
package events
