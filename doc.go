/*
Package cabs is a small library and command line tool for incrementally
loading Chicago taxi trips from the city's open data portal into a relational
store.

A run is made up of the following stages, each of which is wired together by
a Runner and can also be invoked on its own from the cabs command.

1. Plan

   The Tracker reads the persisted watermark (the latest trip start time that
   has been durably written) and the Planner turns it into a half open time
   Window. The window starts a lookback period before the watermark so that
   late arriving corrections are picked up again, and ends at the run's as-of
   time.

2. Fetch and land

   A Source returns every RawTrip whose start time falls inside the window.
   The socrata package pages through the upstream API. If a Lander is
   configured, the untouched payloads are written to date partitioned, gzip
   compressed JSON lines files before anything else happens to them.

3. Stage

   The Deduplicator computes a BusinessKey for each record with a Keyer,
   collapses records sharing a key into the most recent observation, derives
   calendar attributes, and flags outliers according to an OutlierPolicy.
   Records which can not be keyed and keys whose members disagree are reported
   and left out.

4. Upsert

   An Upserter merges the staged batch into the store by business key inside
   a single transaction. Only after the batch is committed is the watermark
   advanced to the latest start time in the batch.

The marts which are built on top of the staged trips, and the CSV exports of
those marts, live in the postgres package.
*/
package cabs
