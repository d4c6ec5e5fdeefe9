// Package cache remembers RATOC Systems devices seen during a scan.
//
// Setting up a device by picking it from a list requires knowing which devices are in range. A
// [DeviceCache] records every advertiser a scan observes, so that a later configuration step can
// offer them without scanning again. Entries are evicted least-recently-seen first once the cache
// holds MaxEntries devices.
//
// A DeviceCache can be persisted with [DeviceCache.ExportToFile] and restored with
// [ImportFromFile].
package cache
