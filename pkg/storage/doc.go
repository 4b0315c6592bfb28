/*
Package storage persists the upstream poll cursor.

By default the cursor lives in memory (MemoryStore) and a restart resumes
from the beginning of the backend's window. When data_dir is configured the
poller uses BoltStore, a single-bucket BoltDB file (data_dir/beacon.db)
keyed by backend endpoint, so a restart resumes after the last ingested
record.
*/
package storage
