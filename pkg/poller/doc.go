/*
Package poller bridges the backend into beacon by polling it over HTTP.

Every backend_poll_interval the poller issues

	GET <backend_endpoint>?after=<cursor>

with a timeout shorter than the interval, and expects a JSON array of
{id, topic, payload, created_at} records. The whole response is validated
before anything is ingested: a network error, a non-2xx status, a body that
is not an array or a record without id, topic or payload is a
types.PollError, nothing from that response is published and the cursor
stays where it was. Records for unknown or disabled topics are skipped.

A 304 reply to If-None-Match (the last ETag is cached for cache_ttl) is a
successful poll with no new records.
*/
package poller
