// Package engine defines the scrape engine contract the session consumes and
// a reference Runner that loads a page through a PageSource, extracts the
// configured elements with goquery, and streams typed events back.
//
// Every Scrape call owns its event channel: the engine emits renderer and
// capture events, at most one result event, and then closes the channel.
// Consumers never subscribe or unsubscribe; draining the channel is enough.
package engine
